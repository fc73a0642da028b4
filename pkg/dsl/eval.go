// Package dsl 提供基于 CEL (Common Expression Language) 的规则表达式。
//
// 规则在加载配置时编译一次，之后可并发求值。可用变量：
//   - section：推荐区块标识，例如 "weather"、"trending"
//   - count：区块中影片数量
//   - weather：当前天气类别，未知时为空字符串
//
// 示例：
//   - `count >= 3`
//   - `section != "search" && count > 0`
//   - `section.startsWith("weather") || weather == "rainy"`
package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/recsync/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("section", cel.StringType),
			cel.Variable("count", cel.IntType),
			cel.Variable("weather", cel.StringType),
		)
	})
	return celEnv, celEnvErr
}

// Vars 是规则求值时的输入
type Vars struct {
	Section string
	Count   int
	Weather string
}

// Rule 是编译好的布尔规则，零值和空表达式总是返回 true
type Rule struct {
	expr string
	prg  cel.Program
}

// Compile 编译规则表达式，表达式必须返回 bool
func Compile(expr string) (*Rule, error) {
	if expr == "" {
		return &Rule{}, nil
	}
	env, err := getCELEnv()
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleImpression, core.ErrorCodeInternalError, "dsl: cel env", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, core.WrapDomainError(core.ModuleImpression, core.ErrorCodeInvalidInput,
			fmt.Sprintf("dsl: compile %q", expr), issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, core.NewDomainError(core.ModuleImpression, core.ErrorCodeInvalidInput,
			fmt.Sprintf("dsl: expression %q must return bool, got %s", expr, ast.OutputType()))
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleImpression, core.ErrorCodeInvalidInput,
			fmt.Sprintf("dsl: program %q", expr), err)
	}
	return &Rule{expr: expr, prg: prg}, nil
}

// String 返回原始表达式
func (r *Rule) String() string {
	if r == nil {
		return ""
	}
	return r.expr
}

// Match 对输入求值；求值出错时返回 false 和错误
func (r *Rule) Match(v Vars) (bool, error) {
	if r == nil || r.prg == nil {
		return true, nil
	}
	out, _, err := r.prg.Eval(map[string]any{
		"section": v.Section,
		"count":   int64(v.Count),
		"weather": v.Weather,
	})
	if err != nil {
		return false, fmt.Errorf("dsl: eval %q: %w", r.expr, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("dsl: expression %q must return bool, got %T", r.expr, out.Value())
	}
	return result, nil
}
