// Package wire renders and parses the SYNCSLOTS control-channel
// subcommand vocabulary of spec §4.6 over the existing RESP wire.
package wire

import (
	"strconv"
	"strings"
)

// Verb identifies one of the SYNCSLOTS subcommands.
type Verb string

const (
	VerbEstablish      Verb = "ESTABLISH"
	VerbACK            Verb = "ACK"
	VerbSnapshotEOF    Verb = "SNAPSHOT-EOF"
	VerbRequestPause   Verb = "REQUEST-PAUSE"
	VerbPaused         Verb = "PAUSED"
	VerbRequestFailover Verb = "REQUEST-FAILOVER"
	VerbFailoverGranted Verb = "FAILOVER-GRANTED"
)

// Establish carries the ESTABLISH verb's fields (spec §4.6).
type Establish struct {
	Source string
	Name   string
	Ranges []SlotPair
}

// SlotPair is one SLOTSRANGE operand pair.
type SlotPair struct{ Start, End int }

// bulk appends one RESP bulk string to b.
func bulk(b *strings.Builder, s string) {
	b.WriteByte('$')
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteString("\r\n")
	b.WriteString(s)
	b.WriteString("\r\n")
}

// RenderEstablish produces the byte-exact ESTABLISH command of spec §6:
//
//	*<8+2N>\r\n$7\r\nCLUSTER\r\n$9\r\nSYNCSLOTS\r\n$9\r\nESTABLISH\r\n
//	$6\r\nSOURCE\r\n$40\r\n<source_id>\r\n
//	$4\r\nNAME\r\n$40\r\n<job_name>\r\n
//	$10\r\nSLOTSRANGE\r\n
//	( $<d(s)>\r\n<s>\r\n $<d(e)>\r\n<e>\r\n ) × N
func RenderEstablish(e Establish) string {
	n := len(e.Ranges)
	var b strings.Builder
	b.WriteByte('*')
	b.WriteString(strconv.Itoa(8 + 2*n))
	b.WriteString("\r\n")
	bulk(&b, "CLUSTER")
	bulk(&b, "SYNCSLOTS")
	bulk(&b, string(VerbEstablish))
	bulk(&b, "SOURCE")
	bulk(&b, e.Source)
	bulk(&b, "NAME")
	bulk(&b, e.Name)
	bulk(&b, "SLOTSRANGE")
	for _, p := range e.Ranges {
		bulk(&b, strconv.Itoa(p.Start))
		bulk(&b, strconv.Itoa(p.End))
	}
	return b.String()
}

// RenderFireAndForget renders one of the argument-free SYNCSLOTS verbs
// (ACK, SNAPSHOT-EOF, REQUEST-PAUSE, PAUSED, REQUEST-FAILOVER,
// FAILOVER-GRANTED) as a 3-element RESP array.
func RenderFireAndForget(v Verb) string {
	var b strings.Builder
	b.WriteString("*3\r\n")
	bulk(&b, "CLUSTER")
	bulk(&b, "SYNCSLOTS")
	bulk(&b, string(v))
	return b.String()
}

// ParseEstablish extracts the SOURCE/NAME/SLOTSRANGE fields from an
// already-tokenized ESTABLISH argv (argv[0]=="ESTABLISH").
func ParseEstablish(argv []string) (Establish, bool) {
	var e Establish
	i := 1
	for i < len(argv) {
		switch strings.ToUpper(argv[i]) {
		case "SOURCE":
			if i+1 >= len(argv) {
				return e, false
			}
			e.Source = argv[i+1]
			i += 2
		case "NAME":
			if i+1 >= len(argv) {
				return e, false
			}
			e.Name = argv[i+1]
			i += 2
		case "SLOTSRANGE":
			i++
			for i+1 < len(argv) {
				s, errS := strconv.Atoi(argv[i])
				e2, errE := strconv.Atoi(argv[i+1])
				if errS != nil || errE != nil {
					break
				}
				e.Ranges = append(e.Ranges, SlotPair{Start: s, End: e2})
				i += 2
			}
		default:
			i++
		}
	}
	return e, e.Source != "" && e.Name != "" && len(e.Ranges) > 0
}
