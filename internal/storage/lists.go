package storage

import "context"

// ============== List Commands ==============

func (ks *keyspace) getList(key string) (*[]string, error) {
	e, err := ks.get(key, TypeList)
	if err != nil || e == nil {
		return nil, err
	}
	return e.value.(*[]string), nil
}

func (ks *keyspace) push(key string, values []string, left, onlyExisting bool) (int64, error) {
	list, err := ks.getList(key)
	if err != nil {
		return 0, err
	}
	if list == nil {
		if onlyExisting {
			return 0, nil
		}
		list = &[]string{}
		ks.entries[key] = &entry{kind: TypeList, value: list}
	}

	if left {
		// LPUSH a b c leaves c at the head
		head := make([]string, len(values), len(values)+len(*list))
		for i, v := range values {
			head[len(values)-1-i] = v
		}
		*list = append(head, *list...)
	} else {
		*list = append(*list, values...)
	}
	ks.touch(key)
	return int64(len(*list)), nil
}

func (ks *keyspace) LPush(ctx context.Context, key string, values []string, onlyExisting bool) (int64, error) {
	return ks.push(key, values, true, onlyExisting)
}

func (ks *keyspace) RPush(ctx context.Context, key string, values []string, onlyExisting bool) (int64, error) {
	return ks.push(key, values, false, onlyExisting)
}

func (ks *keyspace) pop(key string, count int64, left bool) ([]string, error) {
	list, err := ks.getList(key)
	if err != nil || list == nil {
		return nil, err
	}
	n := int64(len(*list))
	if count > n {
		count = n
	}

	popped := make([]string, count)
	if left {
		copy(popped, (*list)[:count])
		*list = (*list)[count:]
	} else {
		for i := int64(0); i < count; i++ {
			popped[i] = (*list)[n-1-i]
		}
		*list = (*list)[:n-count]
	}
	ks.touch(key)
	ks.removeIfEmpty(key, ks.entries[key])
	return popped, nil
}

func (ks *keyspace) LPop(ctx context.Context, key string, count int64) ([]string, error) {
	return ks.pop(key, count, true)
}

func (ks *keyspace) RPop(ctx context.Context, key string, count int64) ([]string, error) {
	return ks.pop(key, count, false)
}

func (ks *keyspace) LLen(ctx context.Context, key string) (int64, error) {
	list, err := ks.getList(key)
	if err != nil || list == nil {
		return 0, err
	}
	return int64(len(*list)), nil
}

func (ks *keyspace) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	list, err := ks.getList(key)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return []string{}, nil
	}
	lo, hi, ok := clampRange(start, stop, int64(len(*list)))
	if !ok {
		return []string{}, nil
	}
	result := make([]string, hi-lo+1)
	copy(result, (*list)[lo:hi+1])
	return result, nil
}

func listIndex(index, n int64) (int64, bool) {
	if index < 0 {
		index = n + index
	}
	return index, index >= 0 && index < n
}

func (ks *keyspace) LIndex(ctx context.Context, key string, index int64) (string, bool, error) {
	list, err := ks.getList(key)
	if err != nil || list == nil {
		return "", false, err
	}
	i, ok := listIndex(index, int64(len(*list)))
	if !ok {
		return "", false, nil
	}
	return (*list)[i], true, nil
}

func (ks *keyspace) LSet(ctx context.Context, key string, index int64, value string) error {
	list, err := ks.getList(key)
	if err != nil {
		return err
	}
	if list == nil {
		return ErrNoSuchKey
	}
	i, ok := listIndex(index, int64(len(*list)))
	if !ok {
		return ErrIndexOutOfRange
	}
	(*list)[i] = value
	ks.touch(key)
	return nil
}

func (ks *keyspace) LInsert(ctx context.Context, key string, before bool, pivot, value string) (int64, error) {
	list, err := ks.getList(key)
	if err != nil || list == nil {
		return 0, err
	}
	for i, v := range *list {
		if v != pivot {
			continue
		}
		at := i
		if !before {
			at = i + 1
		}
		*list = append(*list, "")
		copy((*list)[at+1:], (*list)[at:])
		(*list)[at] = value
		ks.touch(key)
		return int64(len(*list)), nil
	}
	return -1, nil
}

// LRem removes count occurrences of element: from the head when count > 0,
// from the tail when count < 0, all of them when count == 0.
func (ks *keyspace) LRem(ctx context.Context, key string, count int64, element string) (int64, error) {
	list, err := ks.getList(key)
	if err != nil || list == nil {
		return 0, err
	}

	limit := count
	if limit < 0 {
		limit = -limit
	}
	src := *list
	keep := make([]bool, len(src))
	var removed int64
	visit := func(i int) {
		if src[i] == element && (limit == 0 || removed < limit) {
			removed++
			return
		}
		keep[i] = true
	}
	if count < 0 {
		for i := len(src) - 1; i >= 0; i-- {
			visit(i)
		}
	} else {
		for i := range src {
			visit(i)
		}
	}
	if removed == 0 {
		return 0, nil
	}

	out := make([]string, 0, len(src)-int(removed))
	for i, v := range src {
		if keep[i] {
			out = append(out, v)
		}
	}
	*list = out
	ks.touch(key)
	ks.removeIfEmpty(key, ks.entries[key])
	return removed, nil
}

func (ks *keyspace) LTrim(ctx context.Context, key string, start, stop int64) error {
	list, err := ks.getList(key)
	if err != nil || list == nil {
		return err
	}
	lo, hi, ok := clampRange(start, stop, int64(len(*list)))
	if !ok {
		*list = nil
	} else {
		*list = append([]string(nil), (*list)[lo:hi+1]...)
	}
	ks.touch(key)
	ks.removeIfEmpty(key, ks.entries[key])
	return nil
}

// LMove pops from one end of source and pushes to one end of destination.
func (ks *keyspace) LMove(ctx context.Context, source, destination string, fromLeft, toLeft bool) (string, bool, error) {
	src, err := ks.getList(source)
	if err != nil || src == nil {
		return "", false, err
	}
	if _, err := ks.getList(destination); err != nil {
		return "", false, err
	}

	popped, err := ks.pop(source, 1, fromLeft)
	if err != nil || len(popped) == 0 {
		return "", false, err
	}
	if _, err := ks.push(destination, popped, toLeft, false); err != nil {
		return "", false, err
	}
	return popped[0], true, nil
}
