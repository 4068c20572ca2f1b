// (c) 2024, SVM Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package runtime

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"

	cjson "github.com/ava-labs/avalanchego/utils/json"
)

// Service is the JSON-RPC API over the runtime.
type Service struct {
	runtime *Runtime
}

// DeployTemplateArgs are the arguments to DeployTemplate. Code is the
// hex-encoded wasm binary.
type DeployTemplateArgs struct {
	Code  string       `json:"code"`
	Pages cjson.Uint32 `json:"pages"`
}

// DeployTemplateReply is the reply from DeployTemplate
type DeployTemplateReply struct {
	Template ids.ID `json:"template"`
}

// DeployTemplate validates and installs a template.
func (s *Service) DeployTemplate(_ *http.Request, args *DeployTemplateArgs, reply *DeployTemplateReply) error {
	code, err := formatting.Decode(formatting.Hex, args.Code)
	if err != nil {
		return fmt.Errorf("couldn't decode code: %s", err)
	}
	addr, err := s.runtime.DeployTemplate(context.Background(), code, uint32(args.Pages))
	if err != nil {
		return err
	}
	reply.Template = addr
	return nil
}

// SpawnAppArgs are the arguments to SpawnApp. Salt is hex encoded.
type SpawnAppArgs struct {
	Template ids.ID `json:"template"`
	Creator  ids.ID `json:"creator"`
	Salt     string `json:"salt"`
}

// SpawnAppReply is the reply from SpawnApp
type SpawnAppReply struct {
	App ids.ID `json:"app"`
}

// SpawnApp registers a new app bound to an installed template.
func (s *Service) SpawnApp(_ *http.Request, args *SpawnAppArgs, reply *SpawnAppReply) error {
	salt, err := formatting.Decode(formatting.Hex, args.Salt)
	if err != nil {
		return fmt.Errorf("couldn't decode salt: %s", err)
	}
	addr, err := s.runtime.SpawnApp(context.Background(), args.Template, args.Creator, salt)
	if err != nil {
		return err
	}
	reply.App = addr
	return nil
}

// RegisterValueArgs loads a register before execution; Value is hex.
type RegisterValueArgs struct {
	Bits  cjson.Uint32 `json:"bits"`
	Index cjson.Uint32 `json:"index"`
	Value string       `json:"value"`
}

// RegisterSlotArgs designates an output register.
type RegisterSlotArgs struct {
	Bits  cjson.Uint32 `json:"bits"`
	Index cjson.Uint32 `json:"index"`
}

// InvokeArgs are the arguments to Invoke.
type InvokeArgs struct {
	App     ids.ID              `json:"app"`
	Method  string              `json:"method"`
	Params  []cjson.Uint64      `json:"params"`
	Args    []RegisterValueArgs `json:"args"`
	Returns []RegisterSlotArgs  `json:"returns"`
}

// InvokeReply is the reply from Invoke; Outputs are hex encoded.
type InvokeReply struct {
	Results   []cjson.Uint64 `json:"results"`
	Outputs   []string       `json:"outputs"`
	Committed bool           `json:"committed"`
}

// Invoke executes an exported method of an app.
func (s *Service) Invoke(_ *http.Request, args *InvokeArgs, reply *InvokeReply) error {
	inv := Invocation{
		App:     args.App,
		Method:  args.Method,
		Params:  make([]uint64, len(args.Params)),
		Args:    make([]RegisterValue, len(args.Args)),
		Returns: make([]RegisterSlot, len(args.Returns)),
	}
	for i, p := range args.Params {
		inv.Params[i] = uint64(p)
	}
	for i, a := range args.Args {
		value, err := formatting.Decode(formatting.Hex, a.Value)
		if err != nil {
			return fmt.Errorf("couldn't decode register value: %s", err)
		}
		inv.Args[i] = RegisterValue{Bits: uint32(a.Bits), Index: uint32(a.Index), Value: value}
	}
	for i, r := range args.Returns {
		inv.Returns[i] = RegisterSlot{Bits: uint32(r.Bits), Index: uint32(r.Index)}
	}

	receipt, err := s.runtime.Invoke(context.Background(), inv)
	if err != nil {
		return err
	}

	reply.Results = make([]cjson.Uint64, len(receipt.Results))
	for i, r := range receipt.Results {
		reply.Results[i] = cjson.Uint64(r)
	}
	reply.Outputs = make([]string, len(receipt.Outputs))
	for i, out := range receipt.Outputs {
		encoded, err := formatting.Encode(formatting.Hex, out)
		if err != nil {
			return fmt.Errorf("couldn't encode output: %s", err)
		}
		reply.Outputs[i] = encoded
	}
	reply.Committed = receipt.Committed
	return nil
}

// GetTemplateArgs is an API request naming a template
type GetTemplateArgs struct {
	Template ids.ID `json:"template"`
}

// GetTemplateReply is the reply from GetTemplate
type GetTemplateReply struct {
	Pages    cjson.Uint32 `json:"pages"`
	CodeSize cjson.Uint32 `json:"codeSize"`
}

// GetTemplate describes an installed template.
func (s *Service) GetTemplate(_ *http.Request, args *GetTemplateArgs, reply *GetTemplateReply) error {
	tmpl, err := s.runtime.GetTemplate(args.Template)
	if err != nil {
		return err
	}
	reply.Pages = cjson.Uint32(tmpl.Pages)
	reply.CodeSize = cjson.Uint32(len(tmpl.Code))
	return nil
}

// GetAppArgs is an API request naming an app
type GetAppArgs struct {
	App ids.ID `json:"app"`
}

// GetAppReply is the reply from GetApp
type GetAppReply struct {
	Template ids.ID `json:"template"`
	Creator  ids.ID `json:"creator"`
}

// GetApp describes a registered app.
func (s *Service) GetApp(_ *http.Request, args *GetAppArgs, reply *GetAppReply) error {
	app, err := s.runtime.GetApp(args.App)
	if err != nil {
		return err
	}
	reply.Template = app.Template
	reply.Creator = app.Creator
	return nil
}

// ReadPageArgs names one page of an app.
type ReadPageArgs struct {
	App  ids.ID       `json:"app"`
	Page cjson.Uint32 `json:"page"`
}

// ReadPageReply is the reply from ReadPage; Data is hex encoded.
type ReadPageReply struct {
	Data string `json:"data"`
}

// ReadPage returns the committed contents of one app page.
func (s *Service) ReadPage(_ *http.Request, args *ReadPageArgs, reply *ReadPageReply) error {
	data, err := s.runtime.ReadPage(args.App, uint32(args.Page))
	if err != nil {
		return err
	}
	encoded, err := formatting.Encode(formatting.Hex, data)
	if err != nil {
		return fmt.Errorf("couldn't encode page: %s", err)
	}
	reply.Data = encoded
	return nil
}
