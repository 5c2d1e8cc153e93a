package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePorts(t *testing.T) {
	tests := []struct {
		input    string
		want    []int
		wantErr bool
	}{
		{input: "25565", want: []int{25565}},
		{input: "25565, 25570-25572", want: []int{25565, 25570, 25571, 25572}},
		{input: "25572-25570", wantErr: true},
		{input: "abc", wantErr: true},
		{input: "1-5000", wantErr: true},
		{input: ",", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parsePorts(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEnv(t *testing.T) {
	env, err := parseEnv([]string{"EULA=true", "MOTD=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"EULA": "true", "MOTD": "a=b"}, env)

	_, err = parseEnv([]string{"=x"})
	assert.Error(t, err)
}

func TestLoadEgg(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "egg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`name: Minecraft Java
docker_image: ghcr.io/games/minecraft:java21
startup: java -jar server.jar
script_entry: bash
script_install: |
  curl -o server.jar https://example.com/server.jar
`), 0o600))

	egg, err := loadEgg(path)
	require.NoError(t, err)
	assert.Equal(t, "Minecraft Java", egg.Name)
	assert.Equal(t, "bash", egg.ScriptEntry)
	assert.Contains(t, egg.ScriptInstall, "curl -o server.jar")

	incomplete := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(incomplete, []byte("name: nothing\n"), 0o600))
	_, err = loadEgg(incomplete)
	assert.Error(t, err)
}
