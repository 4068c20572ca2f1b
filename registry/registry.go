// (c) 2024, SVM Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"errors"
	"fmt"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/avalanchego/cache"
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
)

const (
	templateCacheSize = 512
	appCacheSize      = 2048
)

var (
	// These are prefixes for db keys.
	// It's important to set different prefixes for each separate database objects.
	templatePrefix = []byte("template")
	appPrefix      = []byte("app")

	ErrUnknownTemplate = errors.New("unknown template")
	ErrUnknownApp      = errors.New("unknown app")
	ErrAppExists       = errors.New("app already registered")
	ErrRecordVersion   = errors.New("wrong record version")
)

// Template is deployed, immutable compiled code plus the number of state
// pages an app spawned from it owns.
type Template struct {
	Code  []byte `serialize:"true"`
	Pages uint32 `serialize:"true"`
}

// App is a deployed instance bound to exactly one template. The binding
// never changes for the app's lifetime.
type App struct {
	Template ids.ID `serialize:"true"`
	Creator  ids.ID `serialize:"true"`
	Salt     []byte `serialize:"true"`
}

// TemplateAddress derives a template's content address from its code.
func TemplateAddress(code []byte) ids.ID {
	return hashing.ComputeHash256Array(code)
}

// AppAddress derives an app's address from its template binding, creator,
// and salt.
func AppAddress(template, creator ids.ID, salt []byte) ids.ID {
	preimage := make([]byte, 0, len(template)+len(creator)+len(salt))
	preimage = append(preimage, template[:]...)
	preimage = append(preimage, creator[:]...)
	preimage = append(preimage, salt...)
	return hashing.ComputeHash256Array(preimage)
}

// Registry resolves addresses to template and app records. It is
// read-mostly; only the deployment operations mutate it, and an app's
// template binding is immutable once registered.
type Registry struct {
	templateDB database.Database
	appDB      database.Database

	templateCache cache.Cacher[ids.ID, *Template]
	appCache      cache.Cacher[ids.ID, *App]
}

func New(db database.Database) *Registry {
	return &Registry{
		templateDB:    prefixdb.New(templatePrefix, db),
		appDB:         prefixdb.New(appPrefix, db),
		templateCache: &cache.LRU[ids.ID, *Template]{Size: templateCacheSize},
		appCache:      &cache.LRU[ids.ID, *App]{Size: appCacheSize},
	}
}

// PutTemplate persists [tmpl] and returns its content-derived address.
// Re-deploying identical code is a no-op that yields the same address.
func (r *Registry) PutTemplate(tmpl *Template) (ids.ID, error) {
	addr := TemplateAddress(tmpl.Code)

	bytes, err := Codec.Marshal(CodecVersion, tmpl)
	if err != nil {
		return ids.Empty, err
	}
	if err := r.templateDB.Put(addr[:], bytes); err != nil {
		return ids.Empty, err
	}
	r.templateCache.Put(addr, tmpl)

	log.Info("stored template", "address", addr, "codeSize", len(tmpl.Code), "pages", tmpl.Pages)
	return addr, nil
}

// GetTemplate resolves a template by address.
func (r *Registry) GetTemplate(addr ids.ID) (*Template, error) {
	if tmpl, ok := r.templateCache.Get(addr); ok {
		return tmpl, nil
	}

	bytes, err := r.templateDB.Get(addr[:])
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, addr)
	}
	if err != nil {
		return nil, err
	}

	tmpl := &Template{}
	parsedVersion, err := Codec.Unmarshal(bytes, tmpl)
	if err != nil {
		return nil, err
	}
	if parsedVersion != CodecVersion {
		return nil, ErrRecordVersion
	}

	r.templateCache.Put(addr, tmpl)
	return tmpl, nil
}

// PutApp persists [app] and returns its derived address. Registering the
// same address twice fails: the template binding is immutable, so an
// existing record must never be overwritten.
func (r *Registry) PutApp(app *App) (ids.ID, error) {
	if _, err := r.GetTemplate(app.Template); err != nil {
		return ids.Empty, err
	}

	addr := AppAddress(app.Template, app.Creator, app.Salt)
	ok, err := r.appDB.Has(addr[:])
	if err != nil {
		return ids.Empty, err
	}
	if ok {
		return ids.Empty, fmt.Errorf("%w: %s", ErrAppExists, addr)
	}

	bytes, err := Codec.Marshal(CodecVersion, app)
	if err != nil {
		return ids.Empty, err
	}
	if err := r.appDB.Put(addr[:], bytes); err != nil {
		return ids.Empty, err
	}
	r.appCache.Put(addr, app)

	log.Info("registered app", "address", addr, "template", app.Template)
	return addr, nil
}

// GetApp resolves an app by address.
func (r *Registry) GetApp(addr ids.ID) (*App, error) {
	if app, ok := r.appCache.Get(addr); ok {
		return app, nil
	}

	bytes, err := r.appDB.Get(addr[:])
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, addr)
	}
	if err != nil {
		return nil, err
	}

	app := &App{}
	parsedVersion, err := Codec.Unmarshal(bytes, app)
	if err != nil {
		return nil, err
	}
	if parsedVersion != CodecVersion {
		return nil, ErrRecordVersion
	}

	r.appCache.Put(addr, app)
	return app, nil
}
