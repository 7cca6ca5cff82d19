// Copyright 2023 LiveKit, Inc.
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


package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetConfigString(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "streamlink.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("fileContent"), 0o644))

	tests := []struct {
		name       string
		configFile string
		configBody string
		expected   string
	}{
		{"nothing", "", "", ""},
		{"body only", "", "configBody", "configBody"},
		{"body wins over file", configFile, "configBody", "configBody"},
		{"file only", configFile, "", "fileContent"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			configBody, err := getConfigString(test.configFile, test.configBody)
			require.NoError(t, err)
			require.Equal(t, test.expected, configBody)
		})
	}
}

func TestShouldReturnErrorIfConfigFileDoesNotExist(t *testing.T) {
	configBody, err := getConfigString(filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.Error(t, err)
	require.Empty(t, configBody)
}

func TestFormatKbps(t *testing.T) {
	require.Equal(t, "35 Mbps", formatKbps(35_000))
	require.Equal(t, "17.5 Mbps", formatKbps(17_500))
	require.Equal(t, "900 kbps", formatKbps(900))
}
