package signalling

import (
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"
)

// lowLatencyVideoLines are appended to each m=video section. pt is the
// section's negotiated payload type.
func lowLatencyVideoLines(pt string) []string {
	return []string{
		"a=x-google-flag:low-latency",
		"a=minBufferedPlaybackTime:0",
		fmt.Sprintf("a=rtcp-fb:%s nack pli", pt),
		fmt.Sprintf("a=rtcp-fb:%s goog-remb", pt),
		fmt.Sprintf("a=rtcp-fb:%s transport-cc", pt),
		"a=extmap-allow-mixed",
		fmt.Sprintf("a=fmtp:%s packetization-mode=1;max-latency=0;profile-level-id=42001f", pt),
	}
}

func lowLatencyAudioLines(pt string) []string {
	return []string{
		"a=x-google-flag:low-latency",
		"a=minBufferedPlaybackTime:0",
		fmt.Sprintf("a=rtcp-fb:%s nack pli", pt),
		fmt.Sprintf("a=rtcp-fb:%s goog-remb", pt),
		fmt.Sprintf("a=rtcp-fb:%s transport-cc", pt),
		"a=extmap-allow-mixed",
	}
}

var mLineRe = regexp.MustCompile(`^m=(video|audio) \d+ \S+ (.+)$`)

// applyLowLatencyHints implements §4.I SDP rewrite step 1: append
// low-latency feedback lines to every m=video/m=audio section, skipping
// lines already present. Returns an error if the result no longer looks
// like valid SDP (missing v=0 or no m= sections).
func applyLowLatencyHints(sdp string) (string, error) {
	lines := strings.Split(sdp, "\r\n")
	if len(lines) == 1 {
		lines = strings.Split(sdp, "\n")
	}

	var out []string
	var mediaKind string
	var pt string
	var sectionLines []string
	haveMLine := false

	flush := func() {
		if mediaKind == "" {
			return
		}
		existing := make(map[string]bool, len(sectionLines))
		for _, l := range sectionLines {
			existing[strings.TrimSpace(l)] = true
		}
		var additions []string
		if mediaKind == "video" {
			additions = lowLatencyVideoLines(pt)
		} else {
			additions = lowLatencyAudioLines(pt)
		}
		for _, a := range additions {
			if !existing[a] {
				sectionLines = append(sectionLines, a)
			}
		}
		out = append(out, sectionLines...)
		sectionLines = nil
		mediaKind = ""
	}

	for _, line := range lines {
		if m := mLineRe.FindStringSubmatch(line); m != nil {
			flush()
			haveMLine = true
			mediaKind = m[1]
			fields := strings.Fields(m[2])
			if len(fields) > 0 {
				pt = fields[0]
			}
			sectionLines = append(sectionLines, line)
			continue
		}
		if mediaKind != "" && strings.HasPrefix(line, "m=") {
			flush()
			out = append(out, line)
			continue
		}
		if mediaKind != "" {
			sectionLines = append(sectionLines, line)
			continue
		}
		out = append(out, line)
	}
	flush()

	result := strings.Join(out, "\r\n")
	if !strings.Contains(result, "v=0") || !haveMLine {
		return "", fmt.Errorf("signalling: SDP rewrite produced invalid output (missing v=0 or m= section)")
	}
	return result, nil
}

var (
	cLineRe    = regexp.MustCompile(`^c=IN IP4 \S+`)
	hostCandRe = regexp.MustCompile(`(a=candidate:\S+ \d+ \S+ \d+ )(\S+)( \d+ typ host)`)
)

// applyPublicIPOverride implements §4.I SDP rewrite step 2.
func applyPublicIPOverride(sdp, publicIP string) string {
	if publicIP == "" {
		return sdp
	}
	lines := strings.Split(sdp, "\r\n")
	for i, line := range lines {
		if cLineRe.MatchString(line) {
			lines[i] = fmt.Sprintf("c=IN IP4 %s", publicIP)
			continue
		}
		if hostCandRe.MatchString(line) {
			lines[i] = hostCandRe.ReplaceAllString(line, "${1}"+publicIP+"${3}")
		}
	}
	return strings.Join(lines, "\r\n")
}

// isPrivateAddress classifies RFC 1918, loopback, and link-local (v4/v6
// ULA, fe80::) addresses per §4.I.
func isPrivateAddress(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 10:
			return true
		case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
			return true
		case ip4[0] == 192 && ip4[1] == 168:
			return true
		}
		return false
	}
	// IPv6 unique local address fc00::/7.
	return len(ip) == 16 && (ip[0]&0xfe) == 0xfc
}

// candidateFieldsRe captures the fixed candidate-line fields:
// foundation, component, transport, priority, address, port, type.
var candidateFieldsRe = regexp.MustCompile(`^a=candidate:(\S+) (\d+) (\S+) (\d+) (\S+) (\d+) typ (\S+)`)

// candidateScore implements §4.I step 3's scoring table.
func candidateScore(line string) int {
	m := candidateFieldsRe.FindStringSubmatch(line)
	if m == nil {
		return 0
	}
	component, proto, addr, typ := m[2], strings.ToLower(m[3]), m[5], m[7]

	score := 0
	switch typ {
	case "host":
		if isPrivateAddress(addr) {
			score += 400
		} else {
			score += 320
		}
	case "srflx":
		score += 200
	case "prflx":
		score += 150
	case "relay":
		score += 50
	}
	if proto == "udp" {
		score += 40
	}
	if component == "1" {
		score += 10
	}
	return score
}

// applyLANPrioritisation implements §4.I SDP rewrite step 3: reorder
// a=candidate lines within each media section by descending score,
// stable on ties.
func applyLANPrioritisation(sdp string) string {
	lines := strings.Split(sdp, "\r\n")
	var out []string
	var candLines []string
	var candIdx []int

	flushCands := func() {
		if len(candLines) == 0 {
			return
		}
		type scored struct {
			line string
			idx  int
			s    int
		}
		items := make([]scored, len(candLines))
		for i, l := range candLines {
			items[i] = scored{line: l, idx: candIdx[i], s: candidateScore(l)}
		}
		sort.SliceStable(items, func(i, j int) bool { return items[i].s > items[j].s })
		for i, it := range items {
			out[candIdx[i]] = it.line
		}
		candLines = nil
		candIdx = nil
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "m=") {
			flushCands()
		}
		out = append(out, line)
		if strings.HasPrefix(line, "a=candidate:") {
			candLines = append(candLines, line)
			candIdx = append(candIdx, len(out)-1)
		}
	}
	flushCands()

	return strings.Join(out, "\r\n")
}

// RewriteSDP runs the full §4.I pipeline: low-latency hints, public IP
// override, then LAN prioritisation, in that order.
func RewriteSDP(sdp, publicIP string, preferLAN bool) (string, error) {
	sdp, err := applyLowLatencyHints(sdp)
	if err != nil {
		return "", err
	}
	sdp = applyPublicIPOverride(sdp, publicIP)
	if preferLAN {
		sdp = applyLANPrioritisation(sdp)
	}
	return sdp, nil
}

var (
	ufragRe      = regexp.MustCompile(`ufrag \S+`)
	generationRe = regexp.MustCompile(`generation \d+`)
)

// coreKey implements §3's PendingCandidateKey: type, protocol, address,
// port, and component, with the mutable tokens elided.
func coreKey(candidate string) string {
	m := candidateFieldsRe.FindStringSubmatch(candidate)
	if m == nil {
		return candidate
	}
	component, proto, addr, port, typ := m[2], strings.ToLower(m[3]), m[5], m[6], m[7]
	return strings.Join([]string{typ, proto, addr, port, component}, "|")
}

// ensureUfrag implements §4.I's ensure_ufrag pass: guarantee the
// candidate: prefix, ensure generation 0 is present, and stamp/rewrite
// the correct ice-ufrag.
func ensureUfrag(candidate, ufrag string) string {
	c := strings.TrimSpace(candidate)
	if !strings.HasPrefix(c, "candidate:") && !strings.HasPrefix(c, "a=candidate:") {
		c = "candidate:" + c
	}
	if !strings.HasPrefix(c, "a=") {
		c = "a=" + c
	}
	if !generationRe.MatchString(c) {
		c = c + " generation 0"
	}
	if ufrag == "" {
		return c
	}
	if ufragRe.MatchString(c) {
		c = ufragRe.ReplaceAllString(c, "ufrag "+ufrag)
	} else {
		c = c + " ufrag " + ufrag
	}
	return c
}
