package agent

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Identity is the agent's persisted state: a UUID that
// survives restarts and a session counter bumped once per process start.
type Identity struct {
	AgentUUID    string `json:"agent_uuid"`
	SessionCount uint64 `json:"session_count"`
}

// stateFileName is the file written under the platform's per-user config
// directory, matching the original agent's "remote_test_agent.json".
const stateFileName = "remote_test_agent.json"

// StatePath returns the path to the persisted identity file, creating the
// parent directory if necessary.
func StatePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, stateFileName), nil
}

// LoadOrCreateIdentity reads path; on any read or parse failure (including
// the file not existing) it mints a fresh UUID with session_count=0. Either
// way the returned Identity has session_count already incremented for this
// run and has been written back to path.
func LoadOrCreateIdentity(path string) (Identity, error) {
	id, err := readIdentity(path)
	if err != nil {
		id = Identity{AgentUUID: uuid.NewString(), SessionCount: 0}
	}

	id.SessionCount++
	if err := writeIdentity(path, id); err != nil {
		return Identity{}, err
	}
	return id, nil
}

func readIdentity(path string) (Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Identity{}, err
	}

	var id Identity
	if err := jsonAPI.Unmarshal(data, &id); err != nil {
		return Identity{}, err
	}
	if id.AgentUUID == "" {
		return Identity{}, errors.New("agent: state file missing agent_uuid")
	}
	return id, nil
}

func writeIdentity(path string, id Identity) error {
	data, err := jsonAPI.Marshal(id)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
