package tree

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	gosync "sync"

	"gopkg.in/yaml.v3"

	"github.com/teranos/treesync/errors"
)

// Types interns type refs by their canonical name, so every mention of a
// type, across reloads too, is the same pointer.
type Types struct {
	mu   gosync.Mutex
	refs map[string]*TypeRef
}

// NewTypes creates an empty interner.
func NewTypes() *Types {
	return &Types{refs: make(map[string]*TypeRef)}
}

// Intern parses a type expression such as "map[string,list[int]]".
func (t *Types) Intern(expr string) (*TypeRef, error) {
	expr = strings.ReplaceAll(expr, " ", "")
	if expr == "" {
		return nil, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ref, rest, err := t.parse(expr)
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, errors.NewInvalidRequestError("trailing %q in type %q", rest, expr)
	}
	return ref, nil
}

// Len returns the number of distinct types interned.
func (t *Types) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.refs)
}

func (t *Types) parse(s string) (*TypeRef, string, error) {
	i := strings.IndexAny(s, "[],")
	name, rest := s, ""
	if i >= 0 {
		name, rest = s[:i], s[i:]
	}
	if name == "" {
		return nil, "", errors.NewInvalidRequestError("missing type name in %q", s)
	}

	var params []*TypeRef
	if strings.HasPrefix(rest, "[") {
		rest = rest[1:]
		for {
			p, r, err := t.parse(rest)
			if err != nil {
				return nil, "", err
			}
			params = append(params, p)
			rest = r
			if strings.HasPrefix(rest, ",") {
				rest = rest[1:]
				continue
			}
			if !strings.HasPrefix(rest, "]") {
				return nil, "", errors.NewInvalidRequestError("unclosed type parameters in %q", s)
			}
			rest = rest[1:]
			break
		}
	}

	ref := &TypeRef{Name: name, Params: params}
	key := typeName(ref)
	if existing, ok := t.refs[key]; ok {
		return existing, rest, nil
	}
	t.refs[key] = ref
	return ref, rest, nil
}

type fileDoc struct {
	Path     string      `yaml:"path"`
	Language string      `yaml:"language"`
	Imports  []string    `yaml:"imports"`
	Body     []exprDoc   `yaml:"body"`
	Markers  []markerDoc `yaml:"markers"`
}

type exprDoc struct {
	Call    *callDoc    `yaml:"call"`
	Ident   *identDoc   `yaml:"ident"`
	Literal *literalDoc `yaml:"literal"`
}

type callDoc struct {
	Callee string    `yaml:"callee"`
	Type   string    `yaml:"type"`
	Args   []exprDoc `yaml:"args"`
}

type identDoc struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type literalDoc struct {
	Value string `yaml:"value"`
	Type  string `yaml:"type"`
}

type markerDoc struct {
	Line     int    `yaml:"line"`
	Severity string `yaml:"severity"`
	Message  string `yaml:"message"`
}

// Loader builds Files from YAML documents. It remembers the last File
// parsed for each path and reuses its unchanged subtrees, so a reload
// diffs against the previous version as only the edited statements.
type Loader struct {
	Types *Types

	mu   gosync.Mutex
	last map[string]*File
}

// NewLoader creates a loader with its own type interner.
func NewLoader() *Loader {
	return &Loader{Types: NewTypes(), last: make(map[string]*File)}
}

// Forget drops the remembered version of path, e.g. after the source file
// was deleted.
func (l *Loader) Forget(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.last, path)
}

// Parse decodes one file document. path is used when the document has no
// path of its own. Files are immutable once returned: subtrees are shared
// with earlier and later versions of the same path.
func (l *Loader) Parse(path string, data []byte) (*File, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	if doc.Path == "" {
		doc.Path = path
	}
	if doc.Path == "" {
		return nil, errors.NewInvalidRequestError("file has no path")
	}

	f := &File{
		Path:     doc.Path,
		Language: doc.Language,
		Imports:  doc.Imports,
	}
	for i, e := range doc.Body {
		expr, err := l.expr(e)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: body[%d]", doc.Path, i)
		}
		f.Body = append(f.Body, expr)
	}
	for _, m := range doc.Markers {
		f.Markers = append(f.Markers, &Marker{Line: m.Line, Severity: m.Severity, Message: m.Message})
	}
	sort.SliceStable(f.Markers, func(i, j int) bool { return f.Markers[i].Line < f.Markers[j].Line })

	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.last[f.Path]; ok {
		f = reuse(f, prev)
	}
	l.last[f.Path] = f
	return f, nil
}

// Load reads and parses one YAML file.
func (l *Loader) Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return l.Parse(filepath.ToSlash(path), data)
}

// LoadDir parses every *.yaml and *.yml file in dir.
func (l *Loader) LoadDir(dir string) ([]*File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", dir)
	}
	var files []*File
	for _, e := range entries {
		if e.IsDir() || !IsSourceFile(e.Name()) {
			continue
		}
		f, err := l.Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// IsSourceFile reports whether name is a YAML tree document.
func IsSourceFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

func (l *Loader) expr(e exprDoc) (Expr, error) {
	set := 0
	for _, ok := range []bool{e.Call != nil, e.Ident != nil, e.Literal != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, errors.NewInvalidRequestError("expression must have exactly one of call, ident, literal")
	}

	switch {
	case e.Call != nil:
		typ, err := l.Types.Intern(e.Call.Type)
		if err != nil {
			return nil, err
		}
		c := &Call{Callee: &Ident{Name: e.Call.Callee}, Type: typ}
		for i, a := range e.Call.Args {
			arg, err := l.expr(a)
			if err != nil {
				return nil, errors.Wrapf(err, "args[%d]", i)
			}
			c.Args = append(c.Args, arg)
		}
		return c, nil
	case e.Ident != nil:
		typ, err := l.Types.Intern(e.Ident.Type)
		if err != nil {
			return nil, err
		}
		return &Ident{Name: e.Ident.Name, Type: typ}, nil
	default:
		typ, err := l.Types.Intern(e.Literal.Type)
		if err != nil {
			return nil, err
		}
		return &Literal{Value: e.Literal.Value, Type: typ}, nil
	}
}
