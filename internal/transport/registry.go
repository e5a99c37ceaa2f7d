package transport

import "sort"

// Registry は購読タイプ識別子からTransport実装を解決する。
// プロセス全体のシングルトンではなく、構成時に明示的に組み立てて注入する。
type Registry struct {
	transports map[string]Transport
}

// NewRegistry はRegistryを生成する。マップはコピーして保持する。
func NewRegistry(transports map[string]Transport) *Registry {
	m := make(map[string]Transport, len(transports))
	for typ, tr := range transports {
		m[typ] = tr
	}
	return &Registry{transports: m}
}

// Resolve は購読タイプに対応するTransportを返す。
func (r *Registry) Resolve(transportType string) (Transport, bool) {
	tr, ok := r.transports[transportType]
	return tr, ok
}

// Types は登録済みの購読タイプを辞書順で返す。
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.transports))
	for typ := range r.transports {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}
