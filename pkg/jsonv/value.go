// Package jsonv 提供有序 JSON 值模型：封闭的和类型 {Null, Bool, Number, String, Array, Object}。
// Object 保留键的插入顺序，Number 保留源字面量，便于逐字节稳定地重新序列化。
package jsonv

// Kind: 值的变体标签。
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value: 封闭接口；仅本包内的类型可实现。
type Value interface {
	Kind() Kind
	sealed()
}

type (
	Null   struct{}
	Bool   bool
	Number string // 源字面量，例如 "1", "-0.5", "1e10"
	String string
	Array  []Value
)

func (Null) Kind() Kind   { return KindNull }
func (Bool) Kind() Kind   { return KindBool }
func (Number) Kind() Kind { return KindNumber }
func (String) Kind() Kind { return KindString }
func (Array) Kind() Kind  { return KindArray }

func (Null) sealed()   {}
func (Bool) sealed()   {}
func (Number) sealed() {}
func (String) sealed() {}
func (Array) sealed()  {}

// Member: 对象中的一个键值对。
type Member struct {
	Key   string
	Value Value
}

// Object: 有序对象。零值可用。
type Object struct {
	Members []Member
}

func (*Object) Kind() Kind { return KindObject }
func (*Object) sealed()    {}

// NewObject 以给定成员构造对象（重复键：保留首次位置、采用末次值）。
func NewObject(members ...Member) *Object {
	o := &Object{Members: make([]Member, 0, len(members))}
	for _, m := range members {
		o.Set(m.Key, m.Value)
	}
	return o
}

// Len 返回成员数量。
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.Members)
}

func (o *Object) index(key string) int {
	if o == nil {
		return -1
	}
	for i := range o.Members {
		if o.Members[i].Key == key {
			return i
		}
	}
	return -1
}

// Get 按键查找。
func (o *Object) Get(key string) (Value, bool) {
	i := o.index(key)
	if i < 0 {
		return nil, false
	}
	return o.Members[i].Value, true
}

// Set 已存在则原位替换，否则追加到末尾。
func (o *Object) Set(key string, v Value) {
	if i := o.index(key); i >= 0 {
		o.Members[i].Value = v
		return
	}
	o.Members = append(o.Members, Member{Key: key, Value: v})
}

// Keys 按插入顺序返回键。
func (o *Object) Keys() []string {
	out := make([]string, 0, o.Len())
	if o == nil {
		return out
	}
	for _, m := range o.Members {
		out = append(out, m.Key)
	}
	return out
}

// Strings 将字符串切片包装为 Array。
func Strings(ss ...string) Array {
	out := make(Array, len(ss))
	for i, s := range ss {
		out[i] = String(s)
	}
	return out
}

// AsStrings: 若 a 的每个元素均为 String，返回其内容；否则 ok=false。
func AsStrings(a Array) ([]string, bool) {
	out := make([]string, len(a))
	for i, v := range a {
		s, ok := v.(String)
		if !ok {
			return nil, false
		}
		out[i] = string(s)
	}
	return out, true
}

// Clone 深拷贝。
func Clone(v Value) Value {
	switch x := v.(type) {
	case Array:
		if x == nil {
			return Array(nil)
		}
		out := make(Array, len(x))
		for i := range x {
			out[i] = Clone(x[i])
		}
		return out
	case *Object:
		if x == nil {
			return (*Object)(nil)
		}
		out := &Object{Members: make([]Member, len(x.Members))}
		for i, m := range x.Members {
			out.Members[i] = Member{Key: m.Key, Value: Clone(m.Value)}
		}
		return out
	default:
		return v
	}
}

// Equal 结构相等；对象成员顺序参与比较，Number 按字面量比较。
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case Array:
		y := b.(Array)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case *Object:
		y := b.(*Object)
		if x.Len() != y.Len() {
			return false
		}
		for i := 0; i < x.Len(); i++ {
			if x.Members[i].Key != y.Members[i].Key || !Equal(x.Members[i].Value, y.Members[i].Value) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
