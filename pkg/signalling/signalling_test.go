package signalling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionAppliesFixedPolicy(t *testing.T) {
	s, err := NewSession(Config{STUNServers: []string{"stun:stun.l.google.com:19302"}})
	require.NoError(t, err)
	defer s.Close()

	cfg := s.PeerConnection().GetConfiguration()
	assert.Equal(t, "max-bundle", cfg.BundlePolicy.String())
	assert.Equal(t, "require", cfg.RTCPMuxPolicy.String())
}

func TestExpiredAfterTTL(t *testing.T) {
	s, err := NewSession(Config{})
	require.NoError(t, err)
	defer s.Close()

	assert.False(t, s.Expired(time.Now()))
	assert.True(t, s.Expired(s.CreatedAt().Add(2*time.Hour)))
}

func TestBufferCandidateDedupesByCoreKey(t *testing.T) {
	s, err := NewSession(Config{})
	require.NoError(t, err)
	defer s.Close()

	s.bufferCandidate("candidate:1 1 udp 1 10.0.0.5 54321 typ host generation 0 ufrag OLD1")
	s.bufferCandidate("candidate:1 1 udp 1 10.0.0.5 54321 typ host generation 0 ufrag NEW1")

	assert.Len(t, s.pendingByCoreKey, 1)
}

func TestPendingCandidatesFilteredByRemoteUfragAfterAnswer(t *testing.T) {
	s, err := NewSession(Config{})
	require.NoError(t, err)
	defer s.Close()

	s.bufferCandidate("candidate:1 1 udp 1 10.0.0.5 54321 typ host")

	s.mu.Lock()
	s.remoteUfrag = "BRWS"
	s.remoteSet = true
	for key, c := range s.pendingByCoreKey {
		s.pendingByCoreKey[key] = storedCandidate{text: ensureUfrag(c.text, "BRWS"), ufrag: "BRWS"}
	}
	s.mu.Unlock()

	got := s.PendingCandidates()
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "ufrag BRWS")
}
