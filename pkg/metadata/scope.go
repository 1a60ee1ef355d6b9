// Package metadata implements the MetadataScope external collaborator
// (spec §6): constant-pool-keyed lookups for types, fields, methods, and
// dynamic call sites, backed by the adapted class loader in
// classloader.go. It must be safe for concurrent reads (§5).
package metadata

import (
	"fmt"

	"github.com/daimatz/godecompiler/pkg/classfile"
	"github.com/daimatz/godecompiler/pkg/ir"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// Scope resolves constant-pool tokens for a single class file being
// decompiled. It is the concrete MetadataScope of §6.
type Scope interface {
	ResolveType(index uint16) (*ir.TypeOperand, error)
	ResolveField(index uint16) (*ir.FieldOperand, error)
	ResolveMethod(index uint16, isInterface bool) (*ir.MethodOperand, error)
	ResolveConstant(index uint16) (*ir.ConstantOperand, error)
	ResolveDynamicCallSite(index uint16) (*ir.DynamicCallSiteOperand, error)
}

// ClassFileScope implements Scope directly against one ClassFile's
// constant pool. It never consults Loader itself; Loader is carried for
// callers that need cross-class lookups.
type ClassFileScope struct {
	cf     *classfile.ClassFile
	Loader Loader // may be nil; only consulted by callers that need cross-class lookups
}

// NewClassFileScope builds a Scope over a single parsed class file.
func NewClassFileScope(cf *classfile.ClassFile, loader Loader) *ClassFileScope {
	return &ClassFileScope{cf: cf, Loader: loader}
}

func (s *ClassFileScope) ResolveType(index uint16) (*ir.TypeOperand, error) {
	name, err := classfile.GetClassName(s.cf.ConstantPool, index)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving type reference at index %d", index)
	}
	return &ir.TypeOperand{TypeName: name}, nil
}

func (s *ClassFileScope) ResolveField(index uint16) (*ir.FieldOperand, error) {
	f, err := classfile.ResolveFieldref(s.cf.ConstantPool, index)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving field reference at index %d", index)
	}
	return &ir.FieldOperand{ClassName: f.ClassName, FieldName: f.FieldName, Descriptor: f.Descriptor}, nil
}

func (s *ClassFileScope) ResolveMethod(index uint16, isInterface bool) (*ir.MethodOperand, error) {
	if isInterface {
		m, err := classfile.ResolveInterfaceMethodref(s.cf.ConstantPool, index)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving interface method reference at index %d", index)
		}
		return &ir.MethodOperand{ClassName: m.ClassName, MethodName: m.MethodName, Descriptor: m.Descriptor, IsInterface: true}, nil
	}
	m, err := classfile.ResolveMethodref(s.cf.ConstantPool, index)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving method reference at index %d", index)
	}
	return &ir.MethodOperand{ClassName: m.ClassName, MethodName: m.MethodName, Descriptor: m.Descriptor}, nil
}

func (s *ClassFileScope) ResolveConstant(index uint16) (*ir.ConstantOperand, error) {
	if int(index) >= len(s.cf.ConstantPool) || s.cf.ConstantPool[index] == nil {
		return nil, fmt.Errorf("invalid constant pool index %d", index)
	}
	switch c := s.cf.ConstantPool[index].(type) {
	case *classfile.ConstantInteger:
		return &ir.ConstantOperand{Value: c.Value}, nil
	case *classfile.ConstantFloat:
		return &ir.ConstantOperand{Value: c.Value}, nil
	case *classfile.ConstantLong:
		return &ir.ConstantOperand{Value: c.Value}, nil
	case *classfile.ConstantDouble:
		return &ir.ConstantOperand{Value: c.Value}, nil
	case *classfile.ConstantString:
		str, err := classfile.GetUtf8(s.cf.ConstantPool, c.StringIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving String constant at index %d", index)
		}
		return &ir.ConstantOperand{Value: str}, nil
	case *classfile.ConstantClass:
		name, err := classfile.GetClassName(s.cf.ConstantPool, index)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving Class constant at index %d", index)
		}
		return &ir.ConstantOperand{Value: ir.TypeOperand{TypeName: name}}, nil
	default:
		return nil, fmt.Errorf("constant pool index %d (tag %d) is not a loadable constant", index, s.cf.ConstantPool[index].Tag())
	}
}

func (s *ClassFileScope) ResolveDynamicCallSite(index uint16) (*ir.DynamicCallSiteOperand, error) {
	if int(index) >= len(s.cf.ConstantPool) || s.cf.ConstantPool[index] == nil {
		return nil, fmt.Errorf("invalid constant pool index %d", index)
	}
	idyn, ok := s.cf.ConstantPool[index].(*classfile.ConstantInvokeDynamic)
	if !ok {
		return nil, fmt.Errorf("constant pool index %d is not resolvable as an InvokeDynamic site", index)
	}
	nat, ok := s.cf.ConstantPool[idyn.NameAndTypeIndex].(*classfile.ConstantNameAndType)
	if !ok {
		return nil, fmt.Errorf("InvokeDynamic at index %d has no NameAndType at %d", index, idyn.NameAndTypeIndex)
	}
	name, err := classfile.GetUtf8(s.cf.ConstantPool, nat.NameIndex)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving InvokeDynamic name at index %d", index)
	}
	desc, err := classfile.GetUtf8(s.cf.ConstantPool, nat.DescriptorIndex)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving InvokeDynamic descriptor at index %d", index)
	}
	return &ir.DynamicCallSiteOperand{
		BootstrapMethodRef: int(idyn.BootstrapMethodAttrIndex),
		MethodName:         name,
		Descriptor:         desc,
	}, nil
}

// scopeCacheSize bounds the per-process LRU of parsed dependency class
// files shared across concurrent method-body jobs (§5).
const scopeCacheSize = 512

// newScopeCache is a thin helper so Loader implementations share one LRU
// construction path.
func newScopeCache() *lru.Cache[string, *classfile.ClassFile] {
	c, err := lru.New[string, *classfile.ClassFile](scopeCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which scopeCacheSize
		// never is; a panic here would indicate a programming error, not a
		// runtime condition, so surface it the same way the teacher treats
		// other "this cannot happen" situations (see Frame's over/underflow).
		panic(err)
	}
	return c
}
