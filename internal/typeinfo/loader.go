package typeinfo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// Load error codes.
const (
	ErrCodeNotFound    = "E001"
	ErrCodeNoFiles     = "E002"
	ErrCodeLoadFailed  = "E003"
	ErrCodeBuildFailed = "E004"
	ErrCodeDecode      = "E005"
)

// LoadError reports a failure to read a module description.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadModule reads every CUE file in dir and decodes the "types" struct.
//
// Types that fail to decode are reported together; the returned module holds
// all types that decoded successfully.
func LoadModule(dir string) (*Module, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("module directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: err.Error()}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	return decodeModule(value, filepath.Base(dir))
}

// ParseModule decodes a module description from CUE source.
func ParseModule(filename string, src []byte) (*Module, error) {
	value := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("compiling %s: %v", filename, err)}
	}
	return decodeModule(value, strings.TrimSuffix(filepath.Base(filename), ".cue"))
}

func decodeModule(value cue.Value, defaultName string) (*Module, error) {
	name := defaultName
	if nameVal := value.LookupPath(cue.ParsePath("module")); nameVal.Exists() {
		s, err := nameVal.String()
		if err != nil {
			return nil, &LoadError{Code: ErrCodeDecode, Message: fmt.Sprintf("module name: %v", err), Pos: nameVal.Pos()}
		}
		name = s
	}

	module := NewModule(name)
	typesVal := value.LookupPath(cue.ParsePath("types"))
	if !typesVal.Exists() {
		return module, nil
	}

	iter, err := typesVal.Fields()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeDecode, Message: fmt.Sprintf("iterating types: %v", err), Pos: typesVal.Pos()}
	}

	var errs []error
	for iter.Next() {
		fullName := iter.Selector().Unquoted()
		var def TypeDefinition
		if err := iter.Value().Decode(&def); err != nil {
			errs = append(errs, &LoadError{
				Code:    ErrCodeDecode,
				Message: fmt.Sprintf("type %s: %v", fullName, err),
				Pos:     iter.Value().Pos(),
			})
			continue
		}
		def.FullName = fullName
		if def.Module == "" {
			def.Module = name
		}
		module.Types[fullName] = &def
	}

	return module, errors.Join(errs...)
}
