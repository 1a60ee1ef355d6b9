package metadata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/godecompiler/pkg/classfile"
	"github.com/daimatz/godecompiler/pkg/metadata"
)

func TestResolveDynamicCallSite(t *testing.T) {
	pool := []classfile.ConstantPoolEntry{
		nil, // index 0 unused
		&classfile.ConstantUtf8{Value: "run"},                                    // 1
		&classfile.ConstantUtf8{Value: "()V"},                                    // 2
		&classfile.ConstantNameAndType{NameIndex: 1, DescriptorIndex: 2},         // 3
		&classfile.ConstantInvokeDynamic{BootstrapMethodAttrIndex: 0, NameAndTypeIndex: 3}, // 4
	}
	cf := &classfile.ClassFile{ConstantPool: pool}
	scope := metadata.NewClassFileScope(cf, nil)

	site, err := scope.ResolveDynamicCallSite(4)
	require.NoError(t, err)
	assert.Equal(t, "run", site.MethodName)
	assert.Equal(t, "()V", site.Descriptor)
	assert.Equal(t, 0, site.BootstrapMethodRef)
}

func TestResolveDynamicCallSiteWrongTag(t *testing.T) {
	pool := []classfile.ConstantPoolEntry{
		nil,
		&classfile.ConstantUtf8{Value: "not a call site"},
	}
	cf := &classfile.ClassFile{ConstantPool: pool}
	scope := metadata.NewClassFileScope(cf, nil)

	_, err := scope.ResolveDynamicCallSite(1)
	assert.Error(t, err)
}

func TestResolveConstantString(t *testing.T) {
	pool := []classfile.ConstantPoolEntry{
		nil,
		&classfile.ConstantUtf8{Value: "hello"},
		&classfile.ConstantString{StringIndex: 1},
	}
	cf := &classfile.ClassFile{ConstantPool: pool}
	scope := metadata.NewClassFileScope(cf, nil)

	c, err := scope.ResolveConstant(2)
	require.NoError(t, err)
	assert.Equal(t, "hello", c.Value)
}

func TestResolveFieldReference(t *testing.T) {
	pool := []classfile.ConstantPoolEntry{
		nil,
		&classfile.ConstantUtf8{Value: "com/example/Foo"},
		&classfile.ConstantClass{NameIndex: 1},
		&classfile.ConstantUtf8{Value: "count"},
		&classfile.ConstantUtf8{Value: "I"},
		&classfile.ConstantNameAndType{NameIndex: 3, DescriptorIndex: 4},
		&classfile.ConstantFieldref{ClassIndex: 2, NameAndTypeIndex: 5},
	}
	cf := &classfile.ClassFile{ConstantPool: pool}
	scope := metadata.NewClassFileScope(cf, nil)

	f, err := scope.ResolveField(6)
	require.NoError(t, err)
	assert.Equal(t, "com/example/Foo", f.ClassName)
	assert.Equal(t, "count", f.FieldName)
	assert.Equal(t, "I", f.Descriptor)
}
