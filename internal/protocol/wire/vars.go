package wire

import (
	"strconv"
)

// Var is one encoded record. An empty Name marks a positional argument.
type Var struct {
	Name  string
	Value []byte
}

// VarSet holds the named variables and positional arguments of one message.
// Records keep insertion order for encoding; setting an existing name replaces
// its value in place.
type VarSet struct {
	recs  []Var
	index map[string]int
	args  []int
}

func NewVarSet() *VarSet {
	return &VarSet{index: make(map[string]int)}
}

func (v *VarSet) Set(name string, value []byte) {
	if name == "" {
		v.AddArg(value)
		return
	}
	if v.index == nil {
		v.index = make(map[string]int)
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	if i, ok := v.index[name]; ok {
		v.recs[i].Value = buf
		return
	}
	v.index[name] = len(v.recs)
	v.recs = append(v.recs, Var{Name: name, Value: buf})
}

func (v *VarSet) SetString(name, value string) {
	v.Set(name, []byte(value))
}

func (v *VarSet) SetInt(name string, n int64) {
	v.Set(name, strconv.AppendInt(nil, n, 10))
}

func (v *VarSet) AddArg(value []byte) {
	buf := make([]byte, len(value))
	copy(buf, value)
	v.args = append(v.args, len(v.recs))
	v.recs = append(v.recs, Var{Value: buf})
}

func (v *VarSet) Get(name string) ([]byte, bool) {
	i, ok := v.index[name]
	if !ok || name == "" {
		return nil, false
	}
	return v.recs[i].Value, true
}

func (v *VarSet) GetString(name string) string {
	b, _ := v.Get(name)
	return string(b)
}

// GetInt parses the named variable as a decimal integer.
func (v *VarSet) GetInt(name string) (int64, bool) {
	b, ok := v.Get(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (v *VarSet) Has(name string) bool {
	_, ok := v.Get(name)
	return ok
}

func (v *VarSet) Arg(i int) ([]byte, bool) {
	if i < 0 || i >= len(v.args) {
		return nil, false
	}
	return v.recs[v.args[i]].Value, true
}

func (v *VarSet) Args() [][]byte {
	out := make([][]byte, 0, len(v.args))
	for _, i := range v.args {
		out = append(out, v.recs[i].Value)
	}
	return out
}

func (v *VarSet) NumArgs() int { return len(v.args) }

// Names returns named variables in insertion order.
func (v *VarSet) Names() []string {
	out := make([]string, 0, len(v.index))
	for _, r := range v.recs {
		if r.Name != "" {
			out = append(out, r.Name)
		}
	}
	return out
}

// Len counts records, named and positional.
func (v *VarSet) Len() int { return len(v.recs) }

// Records returns the records in encoding order.
func (v *VarSet) Records() []Var {
	out := make([]Var, len(v.recs))
	copy(out, v.recs)
	return out
}

func (v *VarSet) Clear() {
	v.recs = v.recs[:0]
	v.args = v.args[:0]
	for k := range v.index {
		delete(v.index, k)
	}
}

// Clone returns a deep copy.
func (v *VarSet) Clone() *VarSet {
	out := NewVarSet()
	for _, r := range v.recs {
		out.Set(r.Name, r.Value)
	}
	return out
}
