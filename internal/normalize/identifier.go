package normalize

import (
	"slices"
	"strconv"
	"strings"

	"bfclprep/pkg/contract"
	"bfclprep/pkg/jsonv"
)

// IDField: 记录标识字段名。
const IDField = "id"

// IdentifierSuffix 提取 id 最后一个 '_' 之后的非负十进制整数。
// 无 '_' 时整个 id 即为后缀。
func IdentifierSuffix(rec *jsonv.Object) (uint64, error) {
	n, merr := suffixOf(rec)
	if merr != nil {
		return 0, merr
	}
	return n, nil
}

func suffixOf(rec *jsonv.Object) (uint64, *contract.MalformedIdentifierError) {
	v, ok := rec.Get(IDField)
	if !ok {
		return 0, &contract.MalformedIdentifierError{Reason: "id is absent"}
	}
	s, ok := v.(jsonv.String)
	if !ok {
		return 0, &contract.MalformedIdentifierError{ID: string(jsonv.Marshal(v, jsonv.StyleCompact)), Reason: "id is not a string"}
	}
	id := string(s)
	suffix := id[strings.LastIndexByte(id, '_')+1:]
	n, err := strconv.ParseUint(suffix, 10, 64)
	if err != nil {
		return 0, &contract.MalformedIdentifierError{ID: id, Reason: "suffix " + strconv.Quote(suffix) + " is not a non-negative integer"}
	}
	return n, nil
}

// SortByIdentifier 按 id 数字后缀升序稳定排序（原地）。
// 先计算全部键；任一记录失败则返回错误且不改动 recs。
func SortByIdentifier(recs []*jsonv.Object) error {
	type keyed struct {
		key uint64
		rec *jsonv.Object
	}
	ks := make([]keyed, len(recs))
	for i, r := range recs {
		n, merr := suffixOf(r)
		if merr != nil {
			merr.Index = i
			return merr
		}
		ks[i] = keyed{key: n, rec: r}
	}
	slices.SortStableFunc(ks, func(a, b keyed) int {
		switch {
		case a.key < b.key:
			return -1
		case a.key > b.key:
			return 1
		}
		return 0
	})
	for i := range ks {
		recs[i] = ks[i].rec
	}
	return nil
}
