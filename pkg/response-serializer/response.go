package serializer

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

const storedAtHeaderName = "Offline-Cache-Stored-At"

type StoredResponse struct {
	Response *http.Response
	// The value of the clock at the time the response was put in a store.
	StoredAt time.Time
}

// FromBytes parses a stored response. The request is attached to the parsed response.
func FromBytes(b []byte, req *http.Request) (StoredResponse, error) {
	sRes := StoredResponse{}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
	if err != nil {
		return sRes, err
	}
	sRes.Response = res
	if storedAt := res.Header.Get(storedAtHeaderName); storedAt != "" {
		storedAtInt, err := strconv.ParseInt(storedAt, 10, 64)
		if err != nil {
			return sRes, err
		}
		sRes.StoredAt = time.UnixMilli(storedAtInt)
	}
	// delete extra headers
	res.Header.Del(storedAtHeaderName)
	return sRes, nil
}

// ToBytes returns the HTTP/1.1 representation of the response.
// The body of the response is consumed and replaced, so the response can still be sent.
func ToBytes(sRes StoredResponse) ([]byte, error) {
	res := sRes.Response
	res.Header.Set(storedAtHeaderName, strconv.FormatInt(sRes.StoredAt.UnixMilli(), 10))
	bts, err := responseToBytes(res)
	// remove the extra header from the live response
	res.Header.Del(storedAtHeaderName)
	return bts, err
}

// Buffer reads the whole body of the response into memory and closes the original body.
// Use it when the response must stay readable after the context that fetched it is done.
func Buffer(res *http.Response) error {
	if res.Body == nil {
		return nil
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	res.TransferEncoding = nil
	return nil
}

// responseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response
func responseToBytes(res *http.Response) ([]byte, error) {
	if err := Buffer(res); err != nil {
		return nil, err
	}
	var body []byte
	if res.Body != nil {
		body, _ = io.ReadAll(res.Body)
	}
	// set response body back
	res.Body = io.NopCloser(bytes.NewReader(body))
	// write a shallow copy so the live response keeps its body
	clone := *res
	clone.ProtoMajor, clone.ProtoMinor = 1, 1
	clone.ContentLength = int64(len(body))
	clone.Body = io.NopCloser(bytes.NewReader(body))
	buf := &bytes.Buffer{}
	if err := clone.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
