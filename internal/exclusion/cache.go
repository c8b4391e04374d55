package exclusion

import (
	"regexp"
	"sync"
)

// 规则表达式编译缓存
var regexCache = &reCache{m: make(map[string]*regexp.Regexp)}

type reCache struct {
	mu sync.RWMutex
	m  map[string]*regexp.Regexp
}

func (c *reCache) Get(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	re, ok := c.m[pattern]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.m[pattern] = re
	c.mu.Unlock()
	return re, nil
}
