package detect

import "github.com/ce-dot-net/ace/internal/pattern"

// Builtin returns the bundled Python, JavaScript and TypeScript rules.
func Builtin() *Catalog {
	c, err := NewCatalog(builtinRules())
	if err != nil {
		panic("detect: invalid builtin catalog: " + err.Error())
	}
	return c
}

func builtinRules() []Rule {
	const (
		good = pattern.KindBeneficial
		bad  = pattern.KindHarmful
	)
	return []Rule{
		{ID: "py-001", Name: "Use TypedDict for configs", Domain: "python-typing", Kind: good, Language: "python",
			Regex:       `class\s+\w*[Cc]onfig\w*\(TypedDict\)`,
			Description: "Define configuration with TypedDict for type safety and IDE support"},
		{ID: "py-002", Name: "Use dataclasses for data structures", Domain: "python-datastructures", Kind: good, Language: "python",
			Regex:       `@dataclass\s+class\s+\w+`,
			Description: "Use @dataclass decorator for simple data containers"},
		{ID: "py-003", Name: "Avoid bare except", Domain: "python-error-handling", Kind: bad, Language: "python",
			Regex:       `except\s*:`,
			Description: "Bare except catches all exceptions including KeyboardInterrupt"},
		{ID: "py-004", Name: "Use context managers for file operations", Domain: "python-io", Kind: good, Language: "python",
			Regex:       `with\s+open\(`,
			Description: "with statement ensures files are properly closed"},
		{ID: "py-005", Name: "Use f-strings for formatting", Domain: "python-strings", Kind: good, Language: "python",
			Regex:       `\bf["']`,
			Description: "f-strings are faster and more readable than .format() or %"},
		{ID: "py-006", Name: "Use list comprehensions", Domain: "python-idioms", Kind: good, Language: "python",
			Regex:       `\[[^\]]+\s+for\s+\w+\s+in\s+`,
			Description: "List comprehensions are more Pythonic and often faster"},
		{ID: "py-007", Name: "Use pathlib over os.path", Domain: "python-io", Kind: good, Language: "python",
			Regex:       `from pathlib import Path`,
			Description: "pathlib provides object-oriented path operations"},
		{ID: "py-008", Name: "Avoid mutable default arguments", Domain: "python-gotchas", Kind: bad, Language: "python",
			Regex:       `def\s+\w+\([^)]*=\s*\[\]`,
			Description: "Mutable defaults are shared across function calls"},

		{ID: "js-001", Name: "Use const for constants", Domain: "javascript-conventions", Kind: good, Language: "javascript",
			Regex:       `const\s+[A-Z_]+\s*=`,
			Description: "const prevents reassignment and signals intent"},
		{ID: "js-002", Name: "Use custom hooks for data fetching", Domain: "react-hooks", Kind: good, Language: "javascript",
			Regex:       `function\s+use[A-Z]\w*\(`,
			Description: "Custom hooks encapsulate reusable stateful logic"},
		{ID: "js-003", Name: "Avoid var keyword", Domain: "javascript-scope", Kind: bad, Language: "javascript",
			Regex:       `\bvar\s+\w+\s*=`,
			Description: "var has function scope and hoisting issues"},
		{ID: "js-004", Name: "Use async/await over promises", Domain: "javascript-async", Kind: good, Language: "javascript",
			Regex:       `async\s+function|\basync\s*\(`,
			Description: "async/await makes asynchronous code more readable"},
		{ID: "js-005", Name: "Use arrow functions for callbacks", Domain: "javascript-functions", Kind: good, Language: "javascript",
			Regex:       `\([^)]*\)\s*=>`,
			Description: "Arrow functions have lexical this binding"},
		{ID: "js-006", Name: "Use destructuring for props", Domain: "react-patterns", Kind: good, Language: "javascript",
			Regex:       `const\s+\{[^}]+\}\s*=\s*props`,
			Description: "Destructuring makes prop usage more explicit"},

		{ID: "ts-001", Name: "Define interface for object types", Domain: "typescript-types", Kind: good, Language: "typescript",
			Regex:       `interface\s+\w+\s*\{`,
			Description: "Interfaces provide type safety and documentation"},
		{ID: "ts-002", Name: "Use type guards for narrowing", Domain: "typescript-guards", Kind: good, Language: "typescript",
			Regex:       `function\s+is\w+\([^)]+\):\s*\w+\s+is\s+\w+`,
			Description: "Type guards enable safe type narrowing"},
		{ID: "ts-003", Name: "Avoid any type", Domain: "typescript-types", Kind: bad, Language: "typescript",
			Regex:       `:\s*any\b`,
			Description: "any defeats the purpose of TypeScript"},
		{ID: "ts-004", Name: "Use union types", Domain: "typescript-types", Kind: good, Language: "typescript",
			Regex:       `:\s*\w+\s*\|\s*\w+`,
			Description: "Union types express multiple possible types"},
	}
}
