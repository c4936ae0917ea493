package diag

import (
	"strconv"

	"github.com/flowterm/flowterm/flow"
	"github.com/flowterm/flowterm/tcpterm"
	"github.com/flowterm/flowterm/udpterm"
)

// AppendDesc appends a compact JSON object describing d to dst, in the
// append-into-a-reusable-buffer style flowterm's wire/diagnostic encoders
// favor over allocating a new encoding/json.Marshal result per call.
func AppendDesc(dst []byte, d flow.Desc) []byte {
	dst = append(dst, `{"type":`...)
	dst = strconv.AppendUint(dst, uint64(d.Type), 10)
	dst = append(dst, `,"proto":`...)
	dst = strconv.AppendUint(dst, uint64(d.HEProto&^flow.FragmentBit), 10)
	dst = append(dst, `,"client":"`...)
	dst = append(dst, d.ClientAddr.String()...)
	dst = append(dst, `:`...)
	dst = strconv.AppendUint(dst, uint64(d.ClientPort), 10)
	dst = append(dst, `","server":"`...)
	dst = append(dst, d.ServerAddr.String()...)
	dst = append(dst, `:`...)
	dst = strconv.AppendUint(dst, uint64(d.ServerPort), 10)
	return append(dst, `"}`...)
}

// AppendTCPState appends a compact JSON object describing the visible
// state of a TCP terminator to dst.
func AppendTCPState(dst []byte, t *tcpterm.Terminator) []byte {
	dst = append(dst, `{"flow":"`...)
	dst = append(dst, t.String()...)
	dst = append(dst, `","state":"`...)
	dst = append(dst, t.State().String()...)
	return append(dst, `"}`...)
}

// AppendUDPState appends a compact JSON object describing a UDP
// terminator's identity to dst; UDP terminators carry no state machine,
// so there is nothing beyond the flow identity to report.
func AppendUDPState(dst []byte, t *udpterm.Terminator) []byte {
	dst = append(dst, `{"flow":"`...)
	dst = append(dst, t.String()...)
	return append(dst, `"}`...)
}
