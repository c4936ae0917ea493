package diag

import (
	"fmt"
	"net"
	"strconv"

	jsp "github.com/buger/jsonparser"
)

// Command names recognized by ParseCommand.
const (
	CmdDumpFlow     = "dump-flow"
	CmdCancelLookup = "cancel-lookup"
)

// Command is a small debug/introspection request, such as "dump the flow
// matching this 5-tuple" or "cancel lookup N". It is deliberately flatter
// than the payloads it's parsed from: ParseCommand extracts only the
// fields the named command needs.
type Command struct {
	Name string

	// Populated for CmdDumpFlow.
	ClientAddr string
	ClientPort uint16
	ServerAddr string
	ServerPort uint16

	// Populated for CmdCancelLookup.
	LookupID uint32
}

// ParseCommand extracts a Command from a small JSON payload without paying
// for a full encoding/json.Unmarshal, the same field-at-a-time style the
// teacher's own json package uses jsonparser for.
func ParseCommand(raw []byte) (Command, error) {
	name, err := jsp.GetString(raw, "cmd")
	if err != nil {
		return Command{}, fmt.Errorf("diag: missing cmd: %w", err)
	}

	cmd := Command{Name: name}

	switch name {
	case CmdDumpFlow:
		client, err := jsp.GetString(raw, "client")
		if err != nil {
			return Command{}, fmt.Errorf("diag: dump-flow missing client: %w", err)
		}
		server, err := jsp.GetString(raw, "server")
		if err != nil {
			return Command{}, fmt.Errorf("diag: dump-flow missing server: %w", err)
		}
		cmd.ClientAddr, cmd.ClientPort, err = splitHostPort(client)
		if err != nil {
			return Command{}, fmt.Errorf("diag: dump-flow client: %w", err)
		}
		cmd.ServerAddr, cmd.ServerPort, err = splitHostPort(server)
		if err != nil {
			return Command{}, fmt.Errorf("diag: dump-flow server: %w", err)
		}
	case CmdCancelLookup:
		id, err := jsp.GetInt(raw, "id")
		if err != nil {
			return Command{}, fmt.Errorf("diag: cancel-lookup missing id: %w", err)
		}
		cmd.LookupID = uint32(id)
	default:
		return Command{}, fmt.Errorf("diag: unknown command %q", name)
	}

	return cmd, nil
}

func splitHostPort(s string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, err
	}
	return host, uint16(port), nil
}
