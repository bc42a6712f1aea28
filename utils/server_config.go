package utils

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// ServerConfigFile 服务器配置文件名
const ServerConfigFile = "server.cfg"

// ServerConfig server.cfg读写工具
// 每行为“key value”，写回时保持key第一次出现的顺序
type ServerConfig struct {
	values *linkedhashmap.Map
}

func NewServerConfig() *ServerConfig {
	return &ServerConfig{values: linkedhashmap.New()}
}

// Read 读取配置文件，文件不存在时得到一个空配置
func (c *ServerConfig) Read(path string) error {
	c.values.Clear()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(strings.TrimLeft(line, " \t"), " ", 2)
		value := ""
		if len(parts) > 1 {
			value = parts[1]
		}
		c.Set(strings.TrimSpace(parts[0]), value)
	}
	return scanner.Err()
}

// Write 按照key的顺序写回配置文件
func (c *ServerConfig) Write(path string) error {
	var buf bytes.Buffer
	it := c.values.Iterator()
	for it.Next() {
		fmt.Fprintf(&buf, "%s %s\n", it.Key(), it.Value())
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// Get 获取去掉首尾空格的值
func (c *ServerConfig) Get(key string) (string, bool) {
	value, ok := c.GetRaw(key)
	return strings.TrimSpace(value), ok
}

// GetRaw 获取原始值
func (c *ServerConfig) GetRaw(key string) (string, bool) {
	value, ok := c.values.Get(key)
	if !ok {
		return "", false
	}
	return value.(string), true
}

// GetOrDefault key不存在时返回默认值
func (c *ServerConfig) GetOrDefault(key string, defaultValue string) string {
	if value, ok := c.Get(key); ok {
		return value
	}
	return strings.TrimSpace(defaultValue)
}

// Set 设置值，新的key追加在末尾
func (c *ServerConfig) Set(key string, value string) {
	c.values.Put(key, value)
}

func (c *ServerConfig) Keys() []string {
	keys := make([]string, 0, c.values.Size())
	for _, key := range c.values.Keys() {
		keys = append(keys, key.(string))
	}
	return keys
}
