package labels

import (
	"fmt"
	"strconv"
	"strings"

	pb "go.gazette.dev/core/broker/protocol"
)

// Port labels expose container ports that a task's connector listens on,
// so that C4's proxy dial can pick the one to address.
const (
	PortPrefix      = "estuary.dev/expose-port"
	PortProtoPrefix = "estuary.dev/port-proto/"
)

// PortConfig describes one exposed container port.
type PortConfig struct {
	// Protocol is an optional ALPN protocol hint for the port, e.g. "http/1.1".
	Protocol string
}

// DecodePorts parses the `estuary.dev/expose-port` and
// `estuary.dev/port-proto/<port>` labels of |set| into a port -> config map.
func DecodePorts(set pb.LabelSet) (map[uint16]*PortConfig, error) {
	var out = make(map[uint16]*PortConfig)

	for _, label := range set.Labels {
		switch {
		case label.Name == PortPrefix:
			var port, err = strconv.ParseUint(label.Value, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("invalid value for %q: %q", label.Name, label.Value)
			}
			if _, ok := out[uint16(port)]; !ok {
				out[uint16(port)] = &PortConfig{}
			}
		case strings.HasPrefix(label.Name, PortProtoPrefix):
			var portStr = label.Name[len(PortProtoPrefix):]
			var port, err = strconv.ParseUint(portStr, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("invalid port in label %q", label.Name)
			}
			if _, ok := out[uint16(port)]; !ok {
				out[uint16(port)] = &PortConfig{}
			}
			out[uint16(port)].Protocol = label.Value
		}
	}
	return out, nil
}
