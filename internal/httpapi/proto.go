package httpapi

import (
	"io"
	"net/http"

	"google.golang.org/protobuf/proto"
)

// maxRequestBody caps request bodies for both protobuf and JSON payloads.
// A verify request is a token plus two ids; 16 KiB leaves room for device
// metadata on registration.
const maxRequestBody = 16 << 10

// isProtobuf reports whether the request carries a protobuf payload. Lock
// firmware sends "application/x-protobuf".
func isProtobuf(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == "application/x-protobuf" ||
		ct == "application/protobuf" ||
		ct == "application/octet-stream"
}

func readProto(r *http.Request, msg proto.Message) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	return proto.Unmarshal(body, msg)
}

func writeProto(w http.ResponseWriter, status int, msg proto.Message) {
	data, err := proto.Marshal(msg)
	if err != nil {
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
