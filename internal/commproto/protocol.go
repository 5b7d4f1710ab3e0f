// ============================================================================
// cardbus vendor comm-server line protocol
// ============================================================================
//
// Package: internal/commproto
// File: protocol.go
// Function: Parses and serialises the vendor comm-server's line-based ASCII
// protocol (§6): CRLF-terminated lines of whitespace-separated integers
// followed by an optional "*freeform text" suffix.
//
// ============================================================================

package commproto

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chuliyu/cardbus/pkg/types"
)

// ErrEmptyLine is returned by ParseMessage when the line has no integer
// fields at all — an empty line or a line that is pure freeform text.
var ErrEmptyLine = errors.New("commproto: empty or fieldless line")

// MessageTypeCardScan and MessageTypeOverrideEcho are the first-field
// values the vendor protocol uses to tag a line's meaning (§6). Every other
// message type is emitted as a RawCommServerMessage only — the reference
// workers that care about it are door-override (echo) and card-scan
// (telemetry); nothing else in this line-based protocol is classified.
const (
	MessageTypeCardScan     = 1
	MessageTypeOverrideEcho = 6
)

// fieldLocationIdx and fieldDoorIdx are shared across every message type
// this protocol classifies (§6 "location at 2, door at 3");
// fieldOverrideStateCodeIdx is specific to the override echo and the
// remaining indices to the card scan.
const (
	fieldLocationIdx          = 2
	fieldDoorIdx              = 3
	fieldOverrideStateCodeIdx = 5
	fieldKindIdx              = 6
	fieldTimestampIdx         = 10 // Y,M,D,h,m,s occupy indices 10..15
	fieldCardNumberIdx        = 21
)

// ParseMessage splits a raw line into its integer fields and trailing
// freeform text. The "*" marks the start of freeform text; everything
// before it is whitespace-separated integers. A line with zero integer
// fields is a parse error (§6 "Empty line or no integer fields").
func ParseMessage(line string) (types.RawCommServerMessage, error) {
	line = strings.TrimRight(line, "\r\n")
	left := line
	text := ""
	if i := strings.IndexByte(line, '*'); i >= 0 {
		left = line[:i]
		text = line[i+1:]
	}

	var fields []int
	for _, tok := range strings.Fields(left) {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return types.RawCommServerMessage{}, fmt.Errorf("commproto: field %q: %w", tok, err)
		}
		fields = append(fields, n)
	}
	if len(fields) == 0 {
		return types.RawCommServerMessage{}, ErrEmptyLine
	}
	return types.RawCommServerMessage{Fields: fields, Text: text}, nil
}

// ClassifyEvent inspects a parsed message and, for the message types the
// reference workers act on, extracts the fixed-position fields into a
// RawCommServerEvent. ok is false for any other message type, or for a
// recognised type whose line is too short to hold its fixed fields — the
// caller should not emit an event for it, only the raw message (§6, §7
// "the socket listener advances past it").
func ClassifyEvent(msg types.RawCommServerMessage, now func() time.Time) (types.RawCommServerEvent, bool) {
	if len(msg.Fields) == 0 {
		return types.RawCommServerEvent{}, false
	}

	switch msg.Fields[0] {
	case MessageTypeCardScan:
		if len(msg.Fields) <= fieldTimestampIdx+5 || len(msg.Fields) <= fieldCardNumberIdx {
			return types.RawCommServerEvent{}, false
		}
		ts := time.Date(
			msg.Fields[fieldTimestampIdx],
			time.Month(msg.Fields[fieldTimestampIdx+1]),
			msg.Fields[fieldTimestampIdx+2],
			msg.Fields[fieldTimestampIdx+3],
			msg.Fields[fieldTimestampIdx+4],
			msg.Fields[fieldTimestampIdx+5],
			0, time.Local,
		)
		return types.RawCommServerEvent{
			Fields:      msg.Fields,
			Text:        msg.Text,
			MessageType: msg.Fields[0],
			Kind:        msg.Fields[fieldKindIdx],
			LocationID:  msg.Fields[fieldLocationIdx],
			DoorNumber:  msg.Fields[fieldDoorIdx],
			CardNumber:  msg.Fields[fieldCardNumberIdx],
			Timestamp:   ts,
		}, true

	case MessageTypeOverrideEcho:
		if len(msg.Fields) <= fieldOverrideStateCodeIdx {
			return types.RawCommServerEvent{}, false
		}
		return types.RawCommServerEvent{
			Fields:      msg.Fields,
			Text:        msg.Text,
			MessageType: msg.Fields[0],
			LocationID:  msg.Fields[fieldLocationIdx],
			DoorNumber:  msg.Fields[fieldDoorIdx],
		}, true

	default:
		return types.RawCommServerEvent{}, false
	}
}

// FormatOverride serialises a door-override command (§6): workstation,
// location, door, and the commanded state code.
func FormatOverride(workstation, location, door int, state types.DoorState) string {
	return fmt.Sprintf("6 %d %d %d 0 %d 3830202337 11 *Comm Server\r\n",
		workstation, location, door, state.StateCode())
}

// FormatEventQuery serialises the fixed event-query command (§6), used to
// poll the comm server for outstanding telemetry on (a,b,c,d).
func FormatEventQuery(a, b, c, d int) string {
	return fmt.Sprintf("0 80 3 %d %d %d %d 0\r\n", a, b, c, d)
}
