package yml

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type (
	// Node is a thin wrapper over yaml.Node with mapping/sequence helpers
	// used by the pipeline parser.
	Node yaml.Node

	// Nodes is a slice of raw yaml nodes, typically a mapping's Content.
	Nodes []*yaml.Node
)

// LookupValueNode returns the value node paired with the given mapping key.
// Key comparison is case-insensitive so definitions may use either
// `runsOn` or `runson`.
func (n Nodes) LookupValueNode(name string) *yaml.Node {
	for i := 0; i+1 < len(n); i += 2 {
		if strings.EqualFold(n[i].Value, name) {
			return n[i+1]
		}
	}
	return nil
}

func (n *Node) Lookup(name string) *Node {
	return (*Node)(Nodes(n.Content).LookupValueNode(name))
}

// Items iterates a sequence node.
func (n *Node) Items(callback func(index int, node *Node) error) error {
	for i := 0; i < len(n.Content); i++ {
		if err := callback(i, (*Node)(n.Content[i])); err != nil {
			return err
		}
	}
	return nil
}

// Pairs iterates a mapping node key by key.
func (n *Node) Pairs(callback func(key string, node *Node) error) error {
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		if err := callback(key, (*Node)(n.Content[i+1])); err != nil {
			return err
		}
	}
	return nil
}

// Strings flattens a scalar or sequence node into a string slice; pipeline
// keys like `run:` and `needs:` accept either form.
func (n *Node) Strings() []string {
	switch n.Kind {
	case yaml.ScalarNode:
		return []string{n.Value}
	case yaml.SequenceNode:
		var result []string
		for i := range n.Content {
			result = append(result, n.Content[i].Value)
		}
		return result
	}
	return nil
}

// Interface converts the node tree into plain go values honouring scalar
// tags.
func (n *Node) Interface() interface{} {
	switch n.Kind {
	case yaml.ScalarNode:
		switch n.Tag {
		case "!!str":
			return n.Value
		case "!!bool":
			return asBool(n.Value)
		case "!!null", "!!nil":
			return nil
		case "!!float":
			return asFloat(n.Value)
		case "!!int":
			return asInt(n.Value)
		default:
			return n.Value
		}
	case yaml.MappingNode:
		aMap := make(map[string]interface{}, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			aMap[n.Content[i].Value] = (*Node)(n.Content[i+1]).Interface()
		}
		return aMap
	case yaml.SequenceNode:
		aSlice := make([]interface{}, 0, len(n.Content))
		for i := range n.Content {
			aSlice = append(aSlice, (*Node)(n.Content[i]).Interface())
		}
		return aSlice
	case yaml.DocumentNode:
		if len(n.Content) == 1 {
			return (*Node)(n.Content[0]).Interface()
		}
	}
	return nil
}

func (n *Node) Append(value interface{}) {
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
	default:
		panic("not a sequence node")
	}
	n.Content = append(n.Content, ValueNode(value))
}

func (n *Node) Put(key string, value interface{}) {
	if n.Kind != yaml.MappingNode {
		panic("not a map node")
	}
	n.Content = append(n.Content, newScalar(key))
	n.Content = append(n.Content, ValueNode(value))
}

// ValueNode builds a yaml node for the supplied go value.
func ValueNode(value interface{}) *yaml.Node {
	if value == nil {
		return newScalar(nil)
	}
	switch actual := value.(type) {
	case *Node:
		return (*yaml.Node)(actual)
	case Node:
		n := &actual
		return (*yaml.Node)(n)
	case *yaml.Node:
		return actual
	case yaml.Node:
		return &actual
	case string, []byte, int, int64, uint64, float64, float32, bool:
		return newScalar(value)
	case map[string]interface{}:
		aMap := (*Node)(NewMap())
		for k, v := range actual {
			aMap.Put(k, v)
		}
		return (*yaml.Node)(aMap)
	case map[string]string:
		aMap := (*Node)(NewMap())
		for k, v := range actual {
			aMap.Put(k, v)
		}
		return (*yaml.Node)(aMap)
	case []interface{}:
		aSlice := (*Node)(NewSlice())
		for j := range actual {
			aSlice.Append(actual[j])
		}
		return (*yaml.Node)(aSlice)
	case []string:
		aSlice := (*Node)(NewSlice())
		for j := range actual {
			aSlice.Append(actual[j])
		}
		return (*yaml.Node)(aSlice)
	default:
		panic(fmt.Sprintf("unsupported yaml node value type %T", actual))
	}
}

func NewSlice() *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
}

func NewMap() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func NewDocument() *yaml.Node {
	return &yaml.Node{Kind: yaml.DocumentNode}
}

func newScalar(value interface{}) *yaml.Node {
	rType := reflect.TypeOf(value)
	if rType != nil && rType.Kind() == reflect.Ptr {
		rValue := reflect.ValueOf(value)
		if rValue.IsNil() {
			value = nil
		} else {
			value = rValue.Elem().Interface()
		}
	}
	if value == nil {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: ""}
	}
	tag := "!!str"
	switch value.(type) {
	case string, []byte:
	case int, int64, uint64:
		tag = "!!int"
	case float64, float32:
		tag = "!!float"
	case bool:
		tag = "!!bool"
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: asString(value)}
}

func asString(value interface{}) string {
	if text, ok := value.(string); ok {
		return text
	}
	switch v := value.(type) {
	case []byte:
		return string(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return v.String()
	default:
		if value == nil {
			return ""
		}
		if reflect.TypeOf(value).Kind() == reflect.Ptr && reflect.ValueOf(value).IsNil() {
			return ""
		}
		return fmt.Sprintf("%v", value)
	}
}

func asBool(value string) bool {
	return strings.EqualFold(value, "true")
}

func asFloat(value string) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return f
}

func asInt(value string) int {
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return i
}
