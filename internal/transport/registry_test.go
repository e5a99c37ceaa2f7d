package transport

import (
	"context"
	"reflect"
	"testing"

	"github.com/beevik/etree"
)

// fakeTransport はテスト用の空実装。
type fakeTransport struct{}

func (f *fakeTransport) ValidateOptions(opts *etree.Element) ValidationResult {
	return ValidationResult{Valid: true}
}
func (f *fakeTransport) SubscriptionID(ctx context.Context, userID, collectionName string, opts *etree.Element) (string, error) {
	return "", nil
}
func (f *fakeTransport) Register(ctx context.Context, subscriptionID string, opts *etree.Element) (*RegisterResult, error) {
	return &RegisterResult{Success: true}, nil
}
func (f *fakeTransport) Update(ctx context.Context, subscriptionID string, opts *etree.Element) (*UpdateResult, error) {
	return &UpdateResult{Success: true}, nil
}
func (f *fakeTransport) Unregister(ctx context.Context, subscriptionID string) error {
	return nil
}

func TestRegistry_Resolve(t *testing.T) {
	wp := &fakeTransport{}
	reg := NewRegistry(map[string]Transport{"web-push": wp})

	got, ok := reg.Resolve("web-push")
	if !ok {
		t.Fatal("登録済みタイプが解決できない")
	}
	if got != wp {
		t.Error("解決されたTransportが登録したインスタンスと異なる")
	}

	if _, ok := reg.Resolve("carrier-pigeon"); ok {
		t.Error("未登録タイプが解決されてしまった")
	}
}

func TestRegistry_Types_Sorted(t *testing.T) {
	reg := NewRegistry(map[string]Transport{
		"web-push": &fakeTransport{},
		"example":  &fakeTransport{},
	})

	want := []string{"example", "web-push"}
	if got := reg.Types(); !reflect.DeepEqual(got, want) {
		t.Errorf("Types() = %v, want %v", got, want)
	}
}

func TestNewRegistry_CopiesMap(t *testing.T) {
	src := map[string]Transport{"web-push": &fakeTransport{}}
	reg := NewRegistry(src)

	// 元マップへの変更はレジストリに影響しない
	delete(src, "web-push")
	if _, ok := reg.Resolve("web-push"); !ok {
		t.Error("NewRegistryはマップをコピーして保持すべき")
	}
}
