package api

import "runtime"

// goroutineID extracts the current goroutine's id from the runtime.Stack
// header line ("goroutine 123 [running]:"). This costs a few microseconds,
// which is acceptable for the state lookup it feeds: the result is cached
// per access through the states map, and portable across Go releases
// unlike g-struct offset tricks.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parseGID(buf[:n])
}

// parseGID parses the decimal id out of a stack header.
func parseGID(buf []byte) int64 {
	const prefix = "goroutine "
	if len(buf) < len(prefix) {
		return 0
	}
	for i := 0; i < len(prefix); i++ {
		if buf[i] != prefix[i] {
			return 0
		}
	}
	var id int64
	for _, b := range buf[len(prefix):] {
		if b < '0' || b > '9' {
			break
		}
		id = id*10 + int64(b-'0')
	}
	return id
}
