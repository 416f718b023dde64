package browser

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// StorageState is the serialized authenticated identity of a browser context:
// its cookies plus origin-scoped local storage. The JSON layout mirrors the
// storage_state.json files produced by mainstream automation drivers so a
// state captured elsewhere can be dropped in.
type StorageState struct {
	Cookies []StateCookie `json:"cookies"`
	Origins []OriginState `json:"origins"`
}

// StateCookie is one serialized cookie.
type StateCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// OriginState holds the local storage captured for one origin.
type OriginState struct {
	Origin       string             `json:"origin"`
	LocalStorage []LocalStorageItem `json:"localStorage"`
}

// LocalStorageItem is a single localStorage key/value pair.
type LocalStorageItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// captureStorageState serializes the cookies of a browser context and the
// local storage of the given page's origin.
func captureStorageState(ctxBrowser *rod.Browser, page *rod.Page) (*StorageState, error) {
	cookies, err := ctxBrowser.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}

	state := &StorageState{
		Cookies: make([]StateCookie, 0, len(cookies)),
		Origins: []OriginState{},
	}

	for _, c := range cookies {
		state.Cookies = append(state.Cookies, StateCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}

	if page != nil {
		origin, items, err := captureLocalStorage(page)
		if err == nil && origin != "" && len(items) > 0 {
			state.Origins = append(state.Origins, OriginState{
				Origin:       origin,
				LocalStorage: items,
			})
		}
	}

	return state, nil
}

// captureLocalStorage reads the current page's origin and localStorage map.
func captureLocalStorage(page *rod.Page) (string, []LocalStorageItem, error) {
	result, err := page.Eval(`() => {
		const items = {};
		for (let i = 0; i < localStorage.length; i++) {
			const key = localStorage.key(i);
			items[key] = localStorage.getItem(key);
		}
		return { origin: location.origin, items };
	}`)
	if err != nil {
		return "", nil, err
	}

	origin := result.Value.Get("origin").Str()
	raw := result.Value.Get("items").Map()
	items := make([]LocalStorageItem, 0, len(raw))
	for name, value := range raw {
		items = append(items, LocalStorageItem{Name: name, Value: value.Str()})
	}
	return origin, items, nil
}

// Save writes the state as JSON to path.
func (s *StorageState) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadStorageState reads a serialized state from path.
func LoadStorageState(path string) (*StorageState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s StorageState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CookieParams converts the serialized cookies into CDP set-cookie params.
func (s *StorageState) CookieParams() []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		if c.SameSite != "" {
			p.SameSite = proto.NetworkCookieSameSite(c.SameSite)
		}
		params = append(params, p)
	}
	return params
}

// SeedScript returns a script that repopulates localStorage for the captured
// origins. It is installed to run on every new document before page scripts,
// so the application sees its storage on first read.
func (s *StorageState) SeedScript() string {
	if len(s.Origins) == 0 {
		return ""
	}
	payload, err := json.Marshal(s.Origins)
	if err != nil {
		return ""
	}
	return fmt.Sprintf(`(() => {
	const origins = %s;
	for (const o of origins) {
		if (location.origin !== o.origin) continue;
		for (const item of o.localStorage) {
			try { localStorage.setItem(item.name, item.value); } catch (e) {}
		}
	}
})();`, string(payload))
}
