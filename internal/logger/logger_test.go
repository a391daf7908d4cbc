// Copyright 2024 The kadfs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/kadfs/kadfs/internal/config"
)

var (
	textLineRe = regexp.MustCompile(`^time="[0-9/:. ]{26}" severity=(\w+) message="(.*)"\n$`)
	jsonLineRe = regexp.MustCompile(`^\{"timestamp":\{"seconds":\d+,"nanos":\d+\},"severity":"(\w+)","message":"(.*)"\}\n$`)
)

type LoggerSuite struct {
	suite.Suite
	buf *bytes.Buffer
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerSuite))
}

func (s *LoggerSuite) SetupTest() {
	s.buf = &bytes.Buffer{}
}

func (s *LoggerSuite) TestTextFormatRendersSeverityAndMessage() {
	Init("text", config.TRACE, s.buf)
	Infof("hello %s", "world")

	m := textLineRe.FindStringSubmatch(s.buf.String())
	s.Require().NotNil(m, "line %q did not match", s.buf.String())
	s.Equal("INFO", m[1])
	s.Equal("hello world", m[2])
}

func (s *LoggerSuite) TestJSONFormatRendersSeverityAndMessage() {
	Init("json", config.TRACE, s.buf)
	Warnf("disk at %d%%", 90)

	m := jsonLineRe.FindStringSubmatch(s.buf.String())
	s.Require().NotNil(m, "line %q did not match", s.buf.String())
	s.Equal("WARNING", m[1])
	s.Equal("disk at 90%", m[2])
}

func (s *LoggerSuite) TestSeverityBelowThresholdIsSuppressed() {
	Init("text", config.WARNING, s.buf)
	Infof("should not appear")
	s.Empty(s.buf.String())
}

func (s *LoggerSuite) TestOffSuppressesEverything() {
	Init("text", config.OFF, s.buf)
	Errorf("should not appear either")
	s.Empty(s.buf.String())
}

func (s *LoggerSuite) TestTraceIsBelowDebug() {
	Init("text", config.DEBUG, s.buf)
	Tracef("suppressed")
	s.Empty(s.buf.String())

	s.buf.Reset()
	Init("text", config.TRACE, s.buf)
	Tracef("visible")
	assert.Contains(s.T(), s.buf.String(), "severity=TRACE")
}
