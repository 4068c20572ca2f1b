// (c) 2024, SVM Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package runtime

import (
	"net/http"

	"github.com/gorilla/rpc/v2"

	cjson "github.com/ava-labs/avalanchego/utils/json"
)

// CreateHandler returns the JSON-RPC handler for this runtime's API,
// registered under the service name "svm".
func (rt *Runtime) CreateHandler() (http.Handler, error) {
	server := rpc.NewServer()
	codec := cjson.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	return server, server.RegisterService(&Service{runtime: rt}, Name)
}

// CreateStaticHandler returns the handler for the state-free address
// derivation API.
func CreateStaticHandler() (http.Handler, error) {
	server := rpc.NewServer()
	codec := cjson.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	return server, server.RegisterService(CreateStaticService(), Name)
}
