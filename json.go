package websocket

import (
	"encoding/json"
	"io"
)

// jsonEncode and jsonDecode back Conn.WriteJSON/ReadJSON. They are kept as
// free functions, rather than inlined, so the encoding package used here
// can change without touching the Conn methods that call them.
func jsonEncode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func jsonDecode(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
