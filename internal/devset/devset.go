package devset

import "github.com/Quirkbot/avr109-flasher/internal/serial"

// Paths returns the path of every device, in order.
func Paths(devices []serial.Device) []string {
	paths := make([]string, 0, len(devices))
	for _, d := range devices {
		paths = append(paths, d.Path)
	}
	return paths
}

// MissingFrom returns the paths of needles that are absent from haystack,
// preserving the order of needles.
func MissingFrom(needles, haystack []serial.Device) []string {
	present := make(map[string]struct{}, len(haystack))
	for _, d := range haystack {
		present[d.Path] = struct{}{}
	}

	var missing []string
	for _, d := range needles {
		if _, ok := present[d.Path]; !ok {
			missing = append(missing, d.Path)
		}
	}
	return missing
}
