package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FrameKind identifies what a device output line carries.
type FrameKind string

// Frame kinds.
const (
	FrameData         FrameKind = "data"          // periodic sensor sweep
	FrameAck          FrameKind = "ack"           // command accepted
	FrameNak          FrameKind = "nak"           // command rejected
	FrameLog          FrameKind = "log"           // verbose stream line
	FrameError        FrameKind = "error"         // device fault report
	FrameInfo         FrameKind = "info"          // informational note
	FrameCmd          FrameKind = "cmd"           // command receipt echo
	FrameFeedProgress FrameKind = "feed_progress" // feed cycle progress
	FrameFeedComplete FrameKind = "feed_complete" // feed cycle result
	FrameAlert        FrameKind = "alert"         // threshold alert
	FrameStatus       FrameKind = "status"        // JSON status snapshot
	FrameText         FrameKind = "text"          // anything unrecognised
)

// Line prefixes in the device output grammar.
const (
	prefixData         = "[DATA] "
	prefixAck          = "[ACK] "
	prefixNak          = "[NAK] "
	prefixLog          = "[LOG:"
	prefixError        = "[ERROR:"
	prefixInfoStamped  = "[INFO:"
	prefixInfo         = "[INFO] "
	prefixCmd          = "[CMD:"
	prefixFeedProgress = "[FEED_PROGRESS] "
	prefixFeedComplete = "[FEED_COMPLETE] "
	prefixAlert        = "[ALERT] "
	prefixSend         = "[SEND] "
)

// FeedProgress is the payload of a FEED_PROGRESS frame, emitted about
// once a second while a feed cycle runs. The JSON keys are fixed by
// the device; the field names carry the units.
type FeedProgress struct {
	WeightKg    float64 `json:"weight"`
	TargetG     float64 `json:"target"`
	ProgressPct float64 `json:"progress"`
	UptimeMS    int64   `json:"t"`
}

// Feed cycle end reasons carried in FeedComplete.Reason.
const (
	ReasonTargetReached = "target_reached"
	ReasonTimeout       = "timeout"
	ReasonManual        = "manual"
)

// FeedComplete is the payload of a FEED_COMPLETE frame. Older firmware
// omits Reason.
type FeedComplete struct {
	TargetG         float64 `json:"target"`
	ActualG         float64 `json:"actual"`
	InitialWeightKg float64 `json:"initial_weight"`
	FinalWeightKg   float64 `json:"final_weight"`
	DurationMS      int64   `json:"duration_ms"`
	Reason          string  `json:"reason,omitempty"`
	UptimeMS        int64   `json:"timestamp"`
}

// Alert types carried in Alert.Type.
const (
	AlertHighTemperature = "high_temperature"
	AlertLowBattery      = "low_battery"
	AlertLowWeight       = "low_weight"
)

// Alert is the payload of an ALERT frame.
type Alert struct {
	Type     string `json:"type"`
	Message  string `json:"msg"`
	UptimeMS int64  `json:"t"`
}

// Frame is one decoded device output line. Kind selects which payload
// fields are meaningful:
//   - FrameData: Data
//   - FrameAck, FrameNak: Token and Detail
//   - FrameLog, FrameError, FrameInfo, FrameCmd, FrameText: Message,
//     with UptimeMS where the line carried a bracket timestamp
//   - FrameFeedProgress: Progress
//   - FrameFeedComplete: Complete
//   - FrameAlert: Alert
//   - FrameStatus: Status
//
// Raw always holds the original line.
type Frame struct {
	Kind FrameKind
	Raw  string

	Data     *DataPayload
	Token    string
	Detail   string
	Message  string
	UptimeMS int64
	Progress *FeedProgress
	Complete *FeedComplete
	Alert    *Alert
	Status   *StatusPayload
}

// ParseFrame decodes one device output line.
//
// Lines that match no known prefix come back as FrameText rather than
// an error, so chatter from boot loaders or debug prints never stalls
// the reader. Errors are reserved for structurally broken frames: an
// empty line, a DATA body with no fields, or a JSON payload that does
// not decode.
//
// Parameters:
//   - line: one output line, without the newline
//
// Returns:
//   - Frame: the decoded frame
//   - error: wrapping ErrInvalidFrame for broken frames
func ParseFrame(line string) (Frame, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Frame{}, fmt.Errorf("%w: empty line", ErrInvalidFrame)
	}

	switch {
	case strings.HasPrefix(line, prefixData):
		data, err := ParseData(line[len(prefixData):])
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: FrameData, Raw: line, Data: &data}, nil

	case strings.HasPrefix(line, prefixAck):
		token, detail := splitEcho(line[len(prefixAck):])
		return Frame{Kind: FrameAck, Raw: line, Token: token, Detail: detail}, nil

	case strings.HasPrefix(line, prefixNak):
		token, detail := splitEcho(line[len(prefixNak):])
		return Frame{Kind: FrameNak, Raw: line, Token: token, Detail: detail}, nil

	case strings.HasPrefix(line, prefixLog):
		return parseStamped(FrameLog, line, prefixLog)

	case strings.HasPrefix(line, prefixError):
		return parseStamped(FrameError, line, prefixError)

	case strings.HasPrefix(line, prefixInfoStamped):
		return parseStamped(FrameInfo, line, prefixInfoStamped)

	case strings.HasPrefix(line, prefixInfo):
		return Frame{Kind: FrameInfo, Raw: line, Message: line[len(prefixInfo):]}, nil

	case strings.HasPrefix(line, prefixCmd):
		return parseStamped(FrameCmd, line, prefixCmd)

	case strings.HasPrefix(line, prefixFeedProgress):
		var p FeedProgress
		if err := json.Unmarshal([]byte(line[len(prefixFeedProgress):]), &p); err != nil {
			return Frame{}, fmt.Errorf("%w: FEED_PROGRESS: %v", ErrInvalidFrame, err)
		}
		return Frame{Kind: FrameFeedProgress, Raw: line, Progress: &p}, nil

	case strings.HasPrefix(line, prefixFeedComplete):
		var c FeedComplete
		if err := json.Unmarshal([]byte(line[len(prefixFeedComplete):]), &c); err != nil {
			return Frame{}, fmt.Errorf("%w: FEED_COMPLETE: %v", ErrInvalidFrame, err)
		}
		return Frame{Kind: FrameFeedComplete, Raw: line, Complete: &c}, nil

	case strings.HasPrefix(line, prefixAlert):
		var a Alert
		if err := json.Unmarshal([]byte(line[len(prefixAlert):]), &a); err != nil {
			return Frame{}, fmt.Errorf("%w: ALERT: %v", ErrInvalidFrame, err)
		}
		return Frame{Kind: FrameAlert, Raw: line, Alert: &a}, nil

	case strings.HasPrefix(line, prefixSend), strings.HasPrefix(line, "{"):
		body := strings.TrimPrefix(line, prefixSend)
		status, err := ParseStatus(body)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: FrameStatus, Raw: line, Status: status}, nil

	default:
		return Frame{Kind: FrameText, Raw: line, Message: line}, nil
	}
}

// splitEcho separates an ACK or NAK body into the echoed token and the
// trailing detail, either of which may be all there is.
func splitEcho(body string) (token, detail string) {
	token, detail, _ = strings.Cut(body, " ")
	return token, detail
}

// parseStamped decodes a "[KIND:ms] message" line. A malformed
// timestamp demotes the line to FrameText instead of failing it.
func parseStamped(kind FrameKind, line, prefix string) (Frame, error) {
	msStr, msg, ok := strings.Cut(line[len(prefix):], "]")
	if !ok {
		return Frame{Kind: FrameText, Raw: line, Message: line}, nil
	}
	ms, err := strconv.ParseInt(msStr, 10, 64)
	if err != nil {
		return Frame{Kind: FrameText, Raw: line, Message: line}, nil
	}
	return Frame{Kind: kind, Raw: line, UptimeMS: ms, Message: strings.TrimPrefix(msg, " ")}, nil
}

// AckLine renders an ACK for the given token echo, with an optional
// result name.
func AckLine(token, detail string) string {
	if detail == "" {
		return prefixAck + token
	}
	return prefixAck + token + " " + detail
}

// NakLine renders a NAK for the given token echo and reason.
func NakLine(token, reason string) string {
	if reason == "" {
		return prefixNak + token
	}
	return prefixNak + token + " " + reason
}

// LogLine renders a verbose stream line stamped with the device
// uptime.
func LogLine(uptimeMS int64, msg string) string {
	return prefixLog + strconv.FormatInt(uptimeMS, 10) + "] " + msg
}

// ErrorLine renders a fault report stamped with the device uptime.
func ErrorLine(uptimeMS int64, msg string) string {
	return prefixError + strconv.FormatInt(uptimeMS, 10) + "] " + msg
}

// InfoLine renders an informational note.
func InfoLine(msg string) string {
	return prefixInfo + msg
}

// CmdEchoLine renders the receipt echo for a command line.
func CmdEchoLine(uptimeMS int64, received string) string {
	return prefixCmd + strconv.FormatInt(uptimeMS, 10) + "] Received: " + received
}

// Encode renders the progress report as a full frame line.
func (p FeedProgress) Encode() string {
	b, _ := json.Marshal(p)
	return prefixFeedProgress + string(b)
}

// Encode renders the cycle result as a full frame line.
func (c FeedComplete) Encode() string {
	b, _ := json.Marshal(c)
	return prefixFeedComplete + string(b)
}

// Encode renders the alert as a full frame line.
func (a Alert) Encode() string {
	b, _ := json.Marshal(a)
	return prefixAlert + string(b)
}
