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

package cfg

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindFlagsAndLoadDefaults(t *testing.T) {
	viper.Reset()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(fs))

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4001, c.Mount.Port)
	assert.False(t, c.Mount.StartCLI)
	assert.Equal(t, uint32(4000), c.Stat.BlockSize)
	assert.Equal(t, 3, c.Monitor.InitialCountdown)
	assert.Equal(t, time.Second, c.Monitor.TickInterval)
	assert.Equal(t, "text", c.Debug.LogFormat)
}

func TestBindFlagsRespectsOverrides(t *testing.T) {
	viper.Reset()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(fs))

	require.NoError(t, fs.Set("mount_point", "/mnt/kadfs"))
	require.NoError(t, fs.Set("start_cli", "true"))
	require.NoError(t, fs.Set("log_severity", "DEBUG"))

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/mnt/kadfs", c.Mount.MountPoint)
	assert.True(t, c.Mount.StartCLI)
	assert.Equal(t, "DEBUG", c.Debug.LogSeverity)
}
