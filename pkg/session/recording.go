package session

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
)

// Recorder accumulates both PCM streams of a call and flushes them to the
// recordings directory on teardown. Filenames are per-call, so concurrent
// sessions never collide.
type Recorder struct {
	mu     sync.Mutex
	dir    string
	callID string
	user   bytes.Buffer
	agent  bytes.Buffer
}

func NewRecorder(dir, callID string) *Recorder {
	return &Recorder{dir: dir, callID: callID}
}

func (r *Recorder) AppendUser(pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.user.Write(pcm)
}

func (r *Recorder) AppendAssistant(pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agent.Write(pcm)
}

// Flush writes both streams and returns their URIs. Empty streams still
// produce files so the call row always references both recordings.
func (r *Recorder) Flush() (userURI, agentURI string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", "", err
	}
	userURI = filepath.Join(r.dir, r.callID+"-user.pcm")
	agentURI = filepath.Join(r.dir, r.callID+"-assistant.pcm")
	if err := os.WriteFile(userURI, r.user.Bytes(), 0o644); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(agentURI, r.agent.Bytes(), 0o644); err != nil {
		return "", "", err
	}
	return userURI, agentURI, nil
}
