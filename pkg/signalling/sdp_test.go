package signalling

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOffer = "v=0\r\n" +
	"o=- 1 1 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=ice-ufrag:ABCD\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 10.0.0.5\r\n" +
	"a=candidate:1 1 udp 2122260223 10.0.0.5 54321 typ host\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 10.0.0.5\r\n"

func TestApplyLowLatencyHintsAddsFeedbackLines(t *testing.T) {
	out, err := applyLowLatencyHints(sampleOffer)
	require.NoError(t, err)
	assert.Contains(t, out, "a=rtcp-fb:96 nack pli")
	assert.Contains(t, out, "a=fmtp:96 packetization-mode=1;max-latency=0;profile-level-id=42001f")
	assert.Contains(t, out, "a=rtcp-fb:111 nack pli")
	assert.NotContains(t, out, "a=fmtp:111")
}

func TestApplyLowLatencyHintsIsIdempotent(t *testing.T) {
	once, err := applyLowLatencyHints(sampleOffer)
	require.NoError(t, err)
	twice, err := applyLowLatencyHints(once)
	require.NoError(t, err)
	assert.Equal(t, strings.Count(twice, "a=x-google-flag:low-latency"), strings.Count(once, "a=x-google-flag:low-latency"))
}

func TestApplyLowLatencyHintsRejectsInvalidSDP(t *testing.T) {
	_, err := applyLowLatencyHints("not an sdp")
	assert.Error(t, err)
}

func TestApplyPublicIPOverrideRewritesHostCandidateAndCLine(t *testing.T) {
	out := applyPublicIPOverride(sampleOffer, "203.0.113.9")
	assert.Contains(t, out, "c=IN IP4 203.0.113.9")
	assert.Contains(t, out, "typ host")
	assert.NotContains(t, out, "10.0.0.5 54321")
}

func TestCandidateScorePrefersPrivateHostOverRelay(t *testing.T) {
	host := candidateScore("a=candidate:1 1 udp 2122260223 192.168.1.5 54321 typ host")
	relay := candidateScore("a=candidate:2 1 udp 2122260223 203.0.113.9 54321 typ relay")
	assert.Greater(t, host, relay)
}

func TestCandidateScorePublicHostLowerThanPrivateHost(t *testing.T) {
	private := candidateScore("a=candidate:1 1 udp 2122260223 10.0.0.5 54321 typ host")
	public := candidateScore("a=candidate:1 1 udp 2122260223 203.0.113.9 54321 typ host")
	assert.Greater(t, private, public)
}

func TestApplyLANPrioritisationReordersWithinSection(t *testing.T) {
	sdp := "v=0\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"a=candidate:1 1 udp 1 203.0.113.9 1 typ relay\r\n" +
		"a=candidate:2 1 udp 1 192.168.1.5 2 typ host\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"

	out := applyLANPrioritisation(sdp)
	relayIdx := strings.Index(out, "typ relay")
	hostIdx := strings.Index(out, "typ host")
	assert.Less(t, hostIdx, relayIdx, "higher-scoring host candidate should sort before relay")
}

func TestCoreKeyIgnoresMutableTokens(t *testing.T) {
	a := "a=candidate:1 1 udp 1 10.0.0.5 54321 typ host generation 0 ufrag ABCD"
	b := "a=candidate:1 1 udp 1 10.0.0.5 54321 typ host generation 3 ufrag WXYZ"
	assert.Equal(t, coreKey(a), coreKey(b))
}

func TestCoreKeyDiffersOnAddress(t *testing.T) {
	a := "a=candidate:1 1 udp 1 10.0.0.5 54321 typ host"
	b := "a=candidate:1 1 udp 1 10.0.0.6 54321 typ host"
	assert.NotEqual(t, coreKey(a), coreKey(b))
}

func TestEnsureUfragStampsMissingUfragAndGeneration(t *testing.T) {
	out := ensureUfrag("candidate:1 1 udp 1 10.0.0.5 54321 typ host", "ABCD")
	assert.True(t, strings.HasPrefix(out, "a=candidate:"))
	assert.Contains(t, out, "generation 0")
	assert.Contains(t, out, "ufrag ABCD")
}

func TestEnsureUfragRewritesDifferingUfrag(t *testing.T) {
	out := ensureUfrag("a=candidate:1 1 udp 1 10.0.0.5 54321 typ host generation 0 ufrag OLD1", "NEW1")
	assert.Contains(t, out, "ufrag NEW1")
	assert.NotContains(t, out, "OLD1")
}
