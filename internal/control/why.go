package control

import "strings"

// Why is a set of reasons for the worker to wake.
type Why uint32

const (
	WhyNone           Why = 0x00
	WhyExit           Why = 0x01
	WhyClientCommand  Why = 0x02
	WhyClientResponse Why = 0x04
	WhyDnodeRequest   Why = 0x08
)

var whyNames = []struct {
	bit  Why
	name string
}{
	{WhyExit, "exit"},
	{WhyClientCommand, "client_command"},
	{WhyClientResponse, "client_response"},
	{WhyDnodeRequest, "dnode_request"},
}

func (w Why) String() string {
	if w == WhyNone {
		return "none"
	}
	parts := make([]string, 0, len(whyNames))
	for _, n := range whyNames {
		if w&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if rest := w &^ (WhyExit | WhyClientCommand | WhyClientResponse | WhyDnodeRequest); rest != 0 {
		parts = append(parts, "unknown")
	}
	return strings.Join(parts, "|")
}
