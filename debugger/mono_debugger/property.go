package mono_debugger

import (
	"context"

	"github.com/fansqz/sampsharp-debugger/debugger"
	e "github.com/fansqz/sampsharp-debugger/error"
	"github.com/sasha-s/go-deadlock"
)

// Property 远程值，子节点按需获取
// 只有表达式求值得到的顶层值可以修改
type Property struct {
	parent     *Property
	value      debugger.ObjectValue
	expression string

	lock     deadlock.Mutex
	children []*Property
	loaded   bool
}

func newProperty(parent *Property, value debugger.ObjectValue) *Property {
	return &Property{parent: parent, value: value}
}

func newExpressionProperty(expression string, value debugger.ObjectValue) *Property {
	return &Property{value: value, expression: expression}
}

func (p *Property) Info() debugger.PropertyInfo {
	fullName := p.value.FullName()
	if p.expression != "" {
		fullName = p.expression
	} else if fullName == "" {
		fullName = p.value.Name()
		if p.parent != nil {
			fullName = p.parent.Info().FullName + "." + fullName
		}
	}
	return debugger.PropertyInfo{
		FullName:   fullName,
		Name:       p.value.Name(),
		Type:       p.value.TypeName(),
		Value:      p.value.Value(),
		ReadOnly:   p.readOnly(),
		Expandable: p.value.HasChildren(),
	}
}

func (p *Property) readOnly() bool {
	return p.expression == "" || p.value.IsReadOnly()
}

func (p *Property) Parent() debugger.Property {
	if p.parent == nil {
		return nil
	}
	return p.parent
}

func (p *Property) Children(ctx context.Context) ([]debugger.Property, error) {
	if !p.value.HasChildren() {
		return nil, nil
	}
	p.lock.Lock()
	if p.loaded {
		defer p.lock.Unlock()
		return toProperties(p.children), nil
	}
	p.lock.Unlock()

	values, err := p.value.Children(ctx)
	if err != nil {
		return nil, err
	}
	children := make([]*Property, len(values))
	for i, value := range values {
		children[i] = newProperty(p, value)
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	if !p.loaded {
		p.children = children
		p.loaded = true
	}
	return toProperties(p.children), nil
}

func (p *Property) SetValueAsString(ctx context.Context, value string) error {
	if p.readOnly() {
		return e.ErrReadOnly
	}
	if err := p.value.SetValue(ctx, value); err != nil {
		return err
	}
	p.lock.Lock()
	p.children = nil
	p.loaded = false
	p.lock.Unlock()
	return nil
}

// Value 远程值
func (p *Property) Value() debugger.ObjectValue {
	return p.value
}
