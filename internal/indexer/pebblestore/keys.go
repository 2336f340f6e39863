package pebblestore

import "bytes"

// Key layout:
//
//	d|<id>              JSON document
//	t|<term>\x00<id>    posting marker (empty value)
var (
	docPrefix  = []byte("d|")
	termPrefix = []byte("t|")
)

func docKey(id string) []byte {
	return append(append([]byte(nil), docPrefix...), id...)
}

func termKey(term, id string) []byte {
	k := make([]byte, 0, len(termPrefix)+len(term)+1+len(id))
	k = append(k, termPrefix...)
	k = append(k, term...)
	k = append(k, 0)
	return append(k, id...)
}

// termBounds returns the iteration range covering every posting of term.
func termBounds(term string) (lower, upper []byte) {
	lower = append(append(append([]byte(nil), termPrefix...), term...), 0)
	return lower, prefixUpperBound(lower)
}

func idFromTermKey(key []byte) string {
	i := bytes.LastIndexByte(key, 0)
	return string(key[i+1:])
}

func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}
