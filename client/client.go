// (c) 2024, SVM Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"context"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/ava-labs/avalanchego/utils/rpc"

	"github.com/svm-labs/svm/runtime"

	cjson "github.com/ava-labs/avalanchego/utils/json"
)

// Client defines svm runtime client operations.
type Client interface {
	// DeployTemplate installs wasm code as a template
	DeployTemplate(ctx context.Context, code []byte, pages uint32) (ids.ID, error)

	// SpawnApp registers an app bound to a deployed template
	SpawnApp(ctx context.Context, template, creator ids.ID, salt []byte) (ids.ID, error)

	// Invoke executes an exported method of an app
	Invoke(ctx context.Context, inv runtime.Invocation) (*runtime.Receipt, error)

	// GetApp fetches an app's template binding and creator
	GetApp(ctx context.Context, app ids.ID) (ids.ID, ids.ID, error)

	// ReadPage fetches the committed contents of one app page
	ReadPage(ctx context.Context, app ids.ID, page uint32) ([]byte, error)
}

// New creates a new client object.
func New(uri string) Client {
	req := rpc.NewEndpointRequester(uri)
	return &client{req: req}
}

type client struct {
	req rpc.EndpointRequester
}

func (cli *client) DeployTemplate(ctx context.Context, code []byte, pages uint32) (ids.ID, error) {
	codeStr, err := formatting.Encode(formatting.Hex, code)
	if err != nil {
		return ids.Empty, err
	}

	resp := new(runtime.DeployTemplateReply)
	err = cli.req.SendRequest(ctx,
		"svm.deployTemplate",
		&runtime.DeployTemplateArgs{Code: codeStr, Pages: cjson.Uint32(pages)},
		resp,
	)
	if err != nil {
		return ids.Empty, err
	}
	return resp.Template, nil
}

func (cli *client) SpawnApp(ctx context.Context, template, creator ids.ID, salt []byte) (ids.ID, error) {
	saltStr, err := formatting.Encode(formatting.Hex, salt)
	if err != nil {
		return ids.Empty, err
	}

	resp := new(runtime.SpawnAppReply)
	err = cli.req.SendRequest(ctx,
		"svm.spawnApp",
		&runtime.SpawnAppArgs{Template: template, Creator: creator, Salt: saltStr},
		resp,
	)
	if err != nil {
		return ids.Empty, err
	}
	return resp.App, nil
}

func (cli *client) Invoke(ctx context.Context, inv runtime.Invocation) (*runtime.Receipt, error) {
	args := &runtime.InvokeArgs{
		App:     inv.App,
		Method:  inv.Method,
		Params:  make([]cjson.Uint64, len(inv.Params)),
		Args:    make([]runtime.RegisterValueArgs, len(inv.Args)),
		Returns: make([]runtime.RegisterSlotArgs, len(inv.Returns)),
	}
	for i, p := range inv.Params {
		args.Params[i] = cjson.Uint64(p)
	}
	for i, a := range inv.Args {
		value, err := formatting.Encode(formatting.Hex, a.Value)
		if err != nil {
			return nil, err
		}
		args.Args[i] = runtime.RegisterValueArgs{
			Bits:  cjson.Uint32(a.Bits),
			Index: cjson.Uint32(a.Index),
			Value: value,
		}
	}
	for i, r := range inv.Returns {
		args.Returns[i] = runtime.RegisterSlotArgs{
			Bits:  cjson.Uint32(r.Bits),
			Index: cjson.Uint32(r.Index),
		}
	}

	resp := new(runtime.InvokeReply)
	if err := cli.req.SendRequest(ctx, "svm.invoke", args, resp); err != nil {
		return nil, err
	}

	receipt := &runtime.Receipt{
		App:       inv.App,
		Method:    inv.Method,
		Results:   make([]uint64, len(resp.Results)),
		Outputs:   make([][]byte, len(resp.Outputs)),
		Committed: resp.Committed,
	}
	for i, r := range resp.Results {
		receipt.Results[i] = uint64(r)
	}
	for i, out := range resp.Outputs {
		bytes, err := formatting.Decode(formatting.Hex, out)
		if err != nil {
			return nil, err
		}
		receipt.Outputs[i] = bytes
	}
	return receipt, nil
}

func (cli *client) GetApp(ctx context.Context, app ids.ID) (ids.ID, ids.ID, error) {
	resp := new(runtime.GetAppReply)
	err := cli.req.SendRequest(ctx,
		"svm.getApp",
		&runtime.GetAppArgs{App: app},
		resp,
	)
	if err != nil {
		return ids.Empty, ids.Empty, err
	}
	return resp.Template, resp.Creator, nil
}

func (cli *client) ReadPage(ctx context.Context, app ids.ID, page uint32) ([]byte, error) {
	resp := new(runtime.ReadPageReply)
	err := cli.req.SendRequest(ctx,
		"svm.readPage",
		&runtime.ReadPageArgs{App: app, Page: cjson.Uint32(page)},
		resp,
	)
	if err != nil {
		return nil, err
	}
	return formatting.Decode(formatting.Hex, resp.Data)
}
