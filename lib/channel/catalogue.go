// Package channel bulk-reads and bulk-writes the per-channel processing
// properties used by the copy and swap operations.
package channel

import "fmt"

// ChannelCount is the number of input channels the console exposes.
const ChannelCount = 16

// baseProps is the per-channel processing catalogue. The paths are the
// console's own address suffixes and must match it byte for byte.
var baseProps = []string{
	"config/name",
	"config/color",
	"config/insrc",

	"preamp/invert",
	"preamp/hpon",
	"preamp/hpf",

	"insert/on",
	"insert/sel",

	"gate/on",
	"gate/mode",
	"gate/thr",
	"gate/range",
	"gate/attack",
	"gate/hold",
	"gate/release",
	"gate/keysrc",
	"gate/filter/on",
	"gate/filter/type",
	"gate/filter/f",

	"dyn/on",
	"dyn/mode",
	"dyn/det",
	"dyn/env",
	"dyn/thr",
	"dyn/ratio",
	"dyn/knee",
	"dyn/mgain",
	"dyn/attack",
	"dyn/hold",
	"dyn/release",
	"dyn/mix",
	"dyn/keysrc",
	"dyn/auto",
	"dyn/filter/on",
	"dyn/filter/type",
	"dyn/filter/f",

	"eq/on",
	"eq/1/type",
	"eq/1/f",
	"eq/1/g",
	"eq/1/q",
	"eq/2/type",
	"eq/2/f",
	"eq/2/g",
	"eq/2/q",
	"eq/3/type",
	"eq/3/f",
	"eq/3/g",
	"eq/3/q",
	"eq/4/type",
	"eq/4/f",
	"eq/4/g",
	"eq/4/q",

	"mix/on",
	"mix/fader",
	"mix/pan",
	"mix/lr",

	"grp/dca",
	"grp/mute",

	"automix/group",
	"automix/weight",
}

var sendProps = []string{"level", "pan", "type", "panFollow", "grpon"}

const busCount = 6

// catalogue is the full per-channel property list: processing chain plus
// the six bus sends.
var catalogue = buildCatalogue()

func buildCatalogue() []string {
	props := make([]string, 0, len(baseProps)+busCount*len(sendProps))
	props = append(props, baseProps...)
	for bus := 1; bus <= busCount; bus++ {
		for _, p := range sendProps {
			props = append(props, fmt.Sprintf("mix/%02d/%s", bus, p))
		}
	}
	return props
}

// Catalogue returns a copy of the property path list.
func Catalogue() []string {
	out := make([]string, len(catalogue))
	copy(out, catalogue)
	return out
}

// Addr builds the wire address for a 0-based channel and property path.
func Addr(ch int, prop string) string {
	return fmt.Sprintf("/ch/%02d/%s", ch+1, prop)
}

// Prefix is the wire address prefix for a 0-based channel.
func Prefix(ch int) string {
	return fmt.Sprintf("/ch/%02d/", ch+1)
}
