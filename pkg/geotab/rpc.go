package geotab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/fleetflea/geotab-admin/internal/log"
	"github.com/fleetflea/geotab-admin/pkg/protocol"
)

// MaxResponseLength caps the byte-length of a JSON-RPC response. Device and User lists for a
// large database run to several megabytes.
const MaxResponseLength = 32 << 20

// Names of MyGeotab exceptions the client reacts to.
const (
	ExceptionInvalidUser   = "InvalidUserException"
	ExceptionOverLimit     = "OverLimitException"
	ExceptionDbUnavailable = "DbUnavailableException"
	ExceptionDuplicate     = "DuplicateException"
)

type HttpError struct {
	Code    int
	Message string
}

func (e *HttpError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Code)
	}
	return e.Message
}

func (e *HttpError) MayHaveSucceeded() bool {
	if e.Code >= 400 && e.Code < 500 {
		return false
	}
	return e.Code != http.StatusServiceUnavailable
}

func (e *HttpError) Temporary() bool {
	return e.Code == http.StatusServiceUnavailable ||
		e.Code == http.StatusGatewayTimeout ||
		e.Code == http.StatusRequestTimeout ||
		e.Code == http.StatusTooManyRequests
}

// RPCErrorDetail is one entry of the errors list in a JSON-RPC error.
type RPCErrorDetail struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// RPCError is returned when the server answers a call with a JSON-RPC error object.
type RPCError struct {
	Name    string           `json:"name"`
	Message string           `json:"message"`
	Errors  []RPCErrorDetail `json:"errors"`
}

func (e *RPCError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("%s: %s", e.Errors[0].Name, e.Errors[0].Message)
	}
	if e.Name != "" {
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	}
	return e.Message
}

// Has returns true if the error or one of its details carries the exception name.
func (e *RPCError) Has(name string) bool {
	if e.Name == name {
		return true
	}
	for _, d := range e.Errors {
		if d.Name == name {
			return true
		}
	}
	return false
}

func (e *RPCError) MayHaveSucceeded() bool {
	return false
}

func (e *RPCError) Temporary() bool {
	return e.Has(ExceptionOverLimit) || e.Has(ExceptionDbUnavailable)
}

type rpcRequest struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
	ID     string      `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func readLimited(r io.Reader) ([]byte, error) {
	reader := io.LimitedReader{R: r, N: MaxResponseLength + 1}
	body, err := io.ReadAll(&reader)
	if err != nil {
		return nil, &protocol.CommandError{Err: err, PossibleSuccess: true, PossibleTemporary: false}
	}
	if len(body) > MaxResponseLength {
		return nil, protocol.ErrResponseTooLarge
	}
	return body, nil
}

// redact hides the password of Authenticate calls in debug logs.
func redact(method string, body []byte) string {
	if method == "Authenticate" {
		return "{...}"
	}
	return string(body)
}

// SendRPC posts a JSON-RPC call to https://server/apiv1 and decodes its result into result (which
// may be nil).
func SendRPC(ctx context.Context, client *http.Client, userAgent, server, method string, params, result interface{}) error {
	body, err := json.Marshal(rpcRequest{Method: method, Params: params, ID: uuid.NewString()})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("https://%s/apiv1", server)
	log.Debug("Sending %s to %s: %s", method, url, redact(method, body))
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &protocol.CommandError{Err: err, PossibleSuccess: false, PossibleTemporary: false}
	}
	request.Header.Set("User-Agent", userAgent)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return &protocol.CommandError{Err: err, PossibleSuccess: mayHaveBeenSent(err), PossibleTemporary: true}
	}
	defer response.Body.Close()

	body, err = readLimited(response.Body)
	if err != nil {
		return err
	}
	log.Debug("Server returned %d: %s: %d bytes", response.StatusCode, http.StatusText(response.StatusCode), len(body))
	if response.StatusCode != http.StatusOK {
		return &HttpError{Code: response.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	// The server accepted the call, so a body that cannot be read leaves its outcome unknown.
	var rsp rpcResponse
	if err := json.Unmarshal(body, &rsp); err != nil {
		return &protocol.CommandError{Err: fmt.Errorf("%w: %s", protocol.ErrBadResponse, err), PossibleSuccess: true, PossibleTemporary: false}
	}
	if rsp.Error != nil {
		return rsp.Error
	}
	if result == nil || len(rsp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rsp.Result, result); err != nil {
		return &protocol.CommandError{Err: fmt.Errorf("%w: %s result: %s", protocol.ErrBadResponse, method, err), PossibleSuccess: true, PossibleTemporary: false}
	}
	return nil
}

// mayHaveBeenSent returns false only for errors raised before the request left the client, such
// as a failed DNS lookup or a refused connection.
func mayHaveBeenSent(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return false
	}
	var dnsErr *net.DNSError
	return !errors.As(err, &dnsErr)
}
