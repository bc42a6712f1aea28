package utils

import (
	"github.com/emirpasic/gods/sets"
	"github.com/emirpasic/gods/sets/hashset"
)

func List2set[T any](list []T) sets.Set {
	set := hashset.New()
	for _, value := range list {
		set.Add(value)
	}
	return set
}

// SetDiff 返回list中不在set里的元素，保持list的顺序
func SetDiff[T comparable](list []T, set sets.Set) []T {
	var answer []T
	for _, value := range list {
		if !set.Contains(value) {
			answer = append(answer, value)
		}
	}
	return answer
}
