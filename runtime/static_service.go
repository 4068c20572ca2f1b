// (c) 2024, SVM Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package runtime

import (
	"fmt"
	"net/http"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"

	"github.com/svm-labs/svm/registry"
)

// StaticService computes addresses without touching runtime state, so
// callers can derive them before deploying.
type StaticService struct{}

// CreateStaticService ...
func CreateStaticService() *StaticService {
	return &StaticService{}
}

// TemplateAddressArgs are arguments for TemplateAddress
type TemplateAddressArgs struct {
	Code string `json:"code"`
}

// TemplateAddressReply is the reply from TemplateAddress
type TemplateAddressReply struct {
	Template ids.ID `json:"template"`
}

// TemplateAddress returns the content-derived address of [args.Code].
func (ss *StaticService) TemplateAddress(_ *http.Request, args *TemplateAddressArgs, reply *TemplateAddressReply) error {
	code, err := formatting.Decode(formatting.Hex, args.Code)
	if err != nil {
		return fmt.Errorf("couldn't decode code: %s", err)
	}
	reply.Template = registry.TemplateAddress(code)
	return nil
}

// AppAddressArgs are arguments for AppAddress
type AppAddressArgs struct {
	Template ids.ID `json:"template"`
	Creator  ids.ID `json:"creator"`
	Salt     string `json:"salt"`
}

// AppAddressReply is the reply from AppAddress
type AppAddressReply struct {
	App ids.ID `json:"app"`
}

// AppAddress returns the address an app would be registered under.
func (ss *StaticService) AppAddress(_ *http.Request, args *AppAddressArgs, reply *AppAddressReply) error {
	salt, err := formatting.Decode(formatting.Hex, args.Salt)
	if err != nil {
		return fmt.Errorf("couldn't decode salt: %s", err)
	}
	reply.App = registry.AppAddress(args.Template, args.Creator, salt)
	return nil
}
