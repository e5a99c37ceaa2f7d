// Package davxml はDAVプッシュプロトコルのXML要素操作を提供する。
// 名前空間を解決した上での子要素探索と、プロトコル名前空間に属する
// 要素の生成をetreeの上に薄くラップする。
package davxml

import "github.com/beevik/etree"

// PushNamespace はプッシュ拡張のXML名前空間。
const PushNamespace = "DAV:Push"

// Prefix はこのサービスが生成するXMLで使う名前空間プレフィックス。
// レスポンスのルート要素で xmlns:P として宣言する。
const Prefix = "P"

// RootRegister は登録ドキュメントのルート要素のローカル名。
const RootRegister = "push-register"

// RootError はエラーレスポンスのルート要素のローカル名。
const RootError = "error"

// IsPushElement は要素がプッシュ名前空間の指定ローカル名かを判定する。
func IsPushElement(el *etree.Element, local string) bool {
	return el != nil && el.Tag == local && el.NamespaceURI() == PushNamespace
}

// FindChild はプッシュ名前空間の指定ローカル名を持つ最初の子要素を返す。
// 見つからない場合はnilを返す。
func FindChild(el *etree.Element, local string) *etree.Element {
	for _, child := range el.ChildElements() {
		if IsPushElement(child, local) {
			return child
		}
	}
	return nil
}

// FindChildren はプッシュ名前空間の指定ローカル名を持つ子要素をすべて返す。
func FindChildren(el *etree.Element, local string) []*etree.Element {
	var found []*etree.Element
	for _, child := range el.ChildElements() {
		if IsPushElement(child, local) {
			found = append(found, child)
		}
	}
	return found
}

// ChildText はプッシュ名前空間の指定ローカル名を持つ最初の子要素のテキストを返す。
// 要素が存在しない場合は空文字列を返す。
func ChildText(el *etree.Element, local string) string {
	if child := FindChild(el, local); child != nil {
		return child.Text()
	}
	return ""
}

// NewElement はプロトコル名前空間プレフィックス付きの要素を生成する。
// ルート要素側で xmlns:P が宣言されている前提で組み立てる。
func NewElement(local string) *etree.Element {
	return etree.NewElement(Prefix + ":" + local)
}

// NewDocument はプロトコル名前空間を宣言したルート要素を持つドキュメントを生成する。
func NewDocument(rootLocal string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement(Prefix + ":" + rootLocal)
	root.CreateAttr("xmlns:"+Prefix, PushNamespace)
	return doc, root
}
