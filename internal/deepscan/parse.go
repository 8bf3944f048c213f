package deepscan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// geminiPayload is the structured verdict we expect back from the model.
type geminiPayload struct {
	Frames  []geminiFrame `json:"frames"`
	Summary struct {
		Overall string `json:"overall"`
	} `json:"summary"`
}

type geminiFrame struct {
	Frame      int     `json:"frame"`
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

var (
	codeFenceOpen  = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	codeFenceClose = regexp.MustCompile("\\s*```$")
	trailingComma  = regexp.MustCompile(`,\s*([}\]])`)

	framesSection = regexp.MustCompile(`(?s)"frames"\s*:\s*\[(.*?)]\s*(?:,|\n|\r|\})`)
	frameBlock    = regexp.MustCompile(`(?s)\{.*?\}`)
	frameNum      = regexp.MustCompile(`"frame"\s*:\s*(\d+)`)
	frameVerdict  = regexp.MustCompile(`"verdict"\s*:\s*"([^"]+)"`)
	frameConf     = regexp.MustCompile(`"confidence"\s*:\s*([0-9]*\.?[0-9]+)`)
	frameReason   = regexp.MustCompile(`(?s)"reason"\s*:\s*"(.*?)"\s*(?:,|\n\s*\})`)
	summaryText   = regexp.MustCompile(`(?s)"summary"\s*:\s*\{.*?"overall"\s*:\s*"(.*?)"\s*\}`)
)

// parsePayload turns a raw model response into a payload: sanitize, try
// strict JSON, then fall back to regex recovery of the frame blocks.
func parsePayload(raw string) (*geminiPayload, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("empty model response")
	}

	sanitized := sanitizeJSONLike(raw)

	var payload geminiPayload
	if err := json.Unmarshal([]byte(sanitized), &payload); err == nil && len(payload.Frames) > 0 {
		return &payload, nil
	}

	// some responses drop the outer braces
	if strings.HasPrefix(sanitized, `"frames"`) {
		if err := json.Unmarshal([]byte("{\n"+sanitized+"\n}"), &payload); err == nil && len(payload.Frames) > 0 {
			return &payload, nil
		}
	}

	return recoverPayload(sanitized)
}

// sanitizeJSONLike strips code fences, smart quotes and trailing commas.
func sanitizeJSONLike(text string) string {
	s := strings.TrimSpace(text)
	s = codeFenceOpen.ReplaceAllString(s, "")
	s = codeFenceClose.ReplaceAllString(s, "")
	replacer := strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
	s = replacer.Replace(s)
	s = trailingComma.ReplaceAllString(s, "$1")
	return s
}

// recoverPayload scrapes frame objects out of malformed JSON-ish text.
func recoverPayload(text string) (*geminiPayload, error) {
	section := text
	if m := framesSection.FindStringSubmatch(text); m != nil {
		section = m[1]
	}

	var frames []geminiFrame
	for _, block := range frameBlock.FindAllString(section, -1) {
		numMatch := frameNum.FindStringSubmatch(block)
		if numMatch == nil {
			continue
		}
		n, _ := strconv.Atoi(numMatch[1])

		frame := geminiFrame{Frame: n, Verdict: "suspicious"}
		if m := frameVerdict.FindStringSubmatch(block); m != nil {
			frame.Verdict = strings.TrimSpace(m[1])
		}
		if m := frameConf.FindStringSubmatch(block); m != nil {
			frame.Confidence, _ = strconv.ParseFloat(m[1], 64)
		}
		if m := frameReason.FindStringSubmatch(block); m != nil {
			frame.Reason = strings.TrimSpace(m[1])
		}
		frames = append(frames, frame)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("unable to recover frame results from model response")
	}

	// frame order drives deterministic voting downstream
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].Frame < frames[j].Frame })

	payload := &geminiPayload{Frames: frames}
	if m := summaryText.FindStringSubmatch(text); m != nil {
		payload.Summary.Overall = strings.TrimSpace(m[1])
	}
	return payload, nil
}
