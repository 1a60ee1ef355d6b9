package metadata

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/daimatz/godecompiler/pkg/classfile"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Loader loads .class files by class name, the same shape as the
// teacher's ClassLoader interface, adapted to back a concurrent-safe
// MetadataScope rather than a single-threaded interpreter.
type Loader interface {
	LoadClass(name string) (*classfile.ClassFile, error)
}

// JmodLoader loads classes from a JDK jmod file. Adapted from
// pkg/vm/classloader.go's JmodClassLoader: the plain map cache is replaced
// with an LRU so concurrent method-body jobs sharing one Loader don't
// unbounded-grow the cache or race on a bare map write.
type JmodLoader struct {
	JmodPath string
	cache    *lru.Cache[string, *classfile.ClassFile]

	zipData   []byte
	zipReader *zip.Reader
}

// NewJmodLoader creates a new JmodLoader.
func NewJmodLoader(jmodPath string) *JmodLoader {
	return &JmodLoader{JmodPath: jmodPath, cache: newScopeCache()}
}

func (cl *JmodLoader) ensureZipReader() error {
	if cl.zipReader != nil {
		return nil
	}

	f, err := os.Open(cl.JmodPath)
	if err != nil {
		return errors.Wrapf(err, "jmod: opening %s", cl.JmodPath)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "jmod: stat %s", cl.JmodPath)
	}

	data := make([]byte, stat.Size())
	if _, err := io.ReadFull(f, data); err != nil {
		return errors.Wrapf(err, "jmod: reading %s", cl.JmodPath)
	}

	cl.zipData = data[4:] // skip "JM\x01\x00" header
	cl.zipReader, err = zip.NewReader(bytes.NewReader(cl.zipData), int64(len(cl.zipData)))
	if err != nil {
		return errors.Wrap(err, "jmod: opening zip")
	}
	return nil
}

func (cl *JmodLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	if cf, ok := cl.cache.Get(name); ok {
		return cf, nil
	}

	if err := cl.ensureZipReader(); err != nil {
		return nil, err
	}

	target := "classes/" + name + ".class"
	for _, file := range cl.zipReader.File {
		if file.Name == target {
			rc, err := file.Open()
			if err != nil {
				return nil, errors.Wrapf(err, "jmod: opening %s", target)
			}
			defer rc.Close()

			cf, err := classfile.Parse(rc)
			if err != nil {
				return nil, errors.Wrapf(err, "jmod: parsing %s", name)
			}
			cl.cache.Add(name, cf)
			return cf, nil
		}
	}

	log.Warn().Str("class", name).Str("jmod", cl.JmodPath).Msg("class not found in jmod")
	return nil, errors.Errorf("jmod: class %s not found in %s", name, cl.JmodPath)
}

// UserLoader loads user classes from the classpath, delegating to the
// parent first. Adapted from pkg/vm/classloader.go's UserClassLoader,
// same LRU-over-map substitution as JmodLoader.
type UserLoader struct {
	ClassPath string
	Parent    Loader
	cache     *lru.Cache[string, *classfile.ClassFile]
}

// NewUserLoader creates a new UserLoader.
func NewUserLoader(classPath string, parent Loader) *UserLoader {
	return &UserLoader{ClassPath: classPath, Parent: parent, cache: newScopeCache()}
}

func (cl *UserLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	if cf, ok := cl.cache.Get(name); ok {
		return cf, nil
	}
	if cl.Parent != nil {
		if cf, err := cl.Parent.LoadClass(name); err == nil {
			return cf, nil
		}
	}
	path := filepath.Join(cl.ClassPath, name+".class")
	cf, err := classfile.ParseFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "user: class %s not found", name)
	}
	cl.cache.Add(name, cf)
	return cf, nil
}
