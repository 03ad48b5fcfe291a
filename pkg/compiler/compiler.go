// Package compiler implements smog's one-pass Pratt compiler: a
// token-driven precedence parser that emits bytecode directly into the
// current function's Chunk as it parses, with no intermediate AST.
//
// A stack of funcScope values, one per enclosing function currently being
// compiled, tracks local-variable slots and resolved upvalues; fun
// declarations push a new funcScope, compile the function body against
// it, then pop back to the enclosing one. The bottommost scope (kind
// scriptScope) represents the top-level script.
package compiler

import (
	"fmt"
	"io"
	"strconv"

	"github.com/kristofer/smogvm/pkg/bytecode"
	"github.com/kristofer/smogvm/pkg/gc"
	"github.com/kristofer/smogvm/pkg/lexer"
	"github.com/kristofer/smogvm/pkg/value"
)

const (
	maxLocals   = 256
	maxUpvalues = 256
	maxArgs     = 255
)

// funcKind distinguishes the implicit top-level script from a `fun`
// declaration's body; only the latter permits `return` with a value and
// slot 0 is never user-addressable in either.
type funcKind int

const (
	scriptScope funcKind = iota
	functionScope
)

type local struct {
	name       string
	depth      int // -1 while being initialized
	isCaptured bool
}

type upvalueRef struct {
	index   int
	isLocal bool
}

// funcScope is one entry in the compiler's stack of enclosing functions,
// mirroring the reference implementation's per-function Compiler struct.
type funcScope struct {
	enclosing  *funcScope
	function   *value.Function
	kind       funcKind
	locals     []local
	upvalues   []upvalueRef
	scopeDepth int
}

// Compiler is a one-shot Pratt parser and bytecode emitter: construct one
// per source string with New, then call Compile.
type Compiler struct {
	scanner *lexer.Scanner
	heap    *gc.Heap
	stderr  io.Writer

	current  lexer.Token
	previous lexer.Token

	hadError  bool
	panicMode bool

	scope *funcScope
}

// New returns a Compiler ready to compile source, allocating objects
// (interned strings, Function objects) through heap. Diagnostics are
// written to stderr in the "[line L] Error...: message" format.
func New(source string, heap *gc.Heap, stderr io.Writer) *Compiler {
	c := &Compiler{
		scanner: lexer.New(source),
		heap:    heap,
		stderr:  stderr,
	}
	c.pushScope(scriptScope, "")
	return c
}

// Compile parses and emits the entire source, returning the top-level
// script Function and whether compilation succeeded. On failure the
// returned Function is nil and diagnostics have already been written to
// stderr.
func (c *Compiler) Compile() (*value.Function, bool) {
	c.heap.SetExtraRoots(compilerRoots{c})
	defer c.heap.SetExtraRoots(nil)

	c.advance()
	for !c.match(lexer.EOF) {
		c.declaration()
	}
	fn := c.endScope()
	if c.hadError {
		return nil, false
	}
	return fn, true
}

// compilerRoots adapts the live chain of funcScope values into a
// gc.RootMarker: every function currently under construction — the
// top-level script plus any nested `fun` bodies being compiled when a
// GC-triggering allocation happens mid-compile — must survive collection
// even though none of them are reachable from the VM yet.
type compilerRoots struct{ c *Compiler }

func (r compilerRoots) MarkRoots(mark func(value.Value)) {
	for s := r.c.scope; s != nil; s = s.enclosing {
		if s.function != nil {
			mark(value.Obj(s.function))
		}
	}
}

func (c *Compiler) pushScope(kind funcKind, name string) {
	fn := c.heap.NewFunction()
	s := &funcScope{enclosing: c.scope, function: fn, kind: kind}
	// Slot 0 is reserved for the called closure itself.
	s.locals = append(s.locals, local{name: "", depth: 0})
	// c.scope must point at s, making fn reachable through compilerRoots,
	// before any further heap allocation (InternString below) can trigger
	// a collection that would otherwise sweep fn as unreachable.
	c.scope = s
	if name != "" {
		fn.Name = c.heap.InternString(name)
	}
}

// endScope emits the function epilogue and pops back to the enclosing
// funcScope, returning the Function just finished.
func (c *Compiler) endScope() *value.Function {
	c.emitByte(byte(bytecode.OpNil))
	c.emitByte(byte(bytecode.OpReturn))
	fn := c.scope.function
	fn.UpvalueCount = len(c.scope.upvalues)
	c.scope = c.scope.enclosing
	return fn
}

func (c *Compiler) chunk() *value.Chunk { return &c.scope.function.Chunk }

// --- token stream -----------------------------------------------------

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.scanner.Next()
		if c.current.Type != lexer.Error {
			break
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *Compiler) check(t lexer.TokenType) bool { return c.current.Type == t }

func (c *Compiler) match(t lexer.TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(t lexer.TokenType, msg string) {
	if c.current.Type == t {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

func (c *Compiler) errorAtCurrent(msg string) { c.errorAt(c.current, msg) }
func (c *Compiler) error(msg string)          { c.errorAt(c.previous, msg) }

func (c *Compiler) errorAt(tok lexer.Token, msg string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	if c.stderr != nil {
		switch tok.Type {
		case lexer.EOF:
			fmt.Fprintf(c.stderr, "[line %d] Error at end: %s\n", tok.Line, msg)
		case lexer.Error:
			fmt.Fprintf(c.stderr, "[line %d] Error: %s\n", tok.Line, msg)
		default:
			fmt.Fprintf(c.stderr, "[line %d] Error at '%s': %s\n", tok.Line, tok.Lexeme, msg)
		}
	}
	c.hadError = true
}

// synchronize discards tokens until it reaches a likely statement
// boundary, suppressing cascading errors after the first one at a given
// token.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != lexer.EOF {
		if c.previous.Type == lexer.Semicolon {
			return
		}
		switch c.current.Type {
		case lexer.Class, lexer.Fun, lexer.Var, lexer.For, lexer.If,
			lexer.While, lexer.Print, lexer.Return:
			return
		}
		c.advance()
	}
}

// --- emission helpers ---------------------------------------------------

func (c *Compiler) emitByte(b byte) {
	bytecode.WriteByte(c.chunk(), b, c.previous.Line)
}

func (c *Compiler) emitOp(op bytecode.Op) { c.emitByte(byte(op)) }

func (c *Compiler) emitBytes(a, b byte) {
	c.emitByte(a)
	c.emitByte(b)
}

// emitConstant appends v to the constant pool and emits CONST or, if the
// pool has grown past 256 entries, CONST_LONG with a 24-bit operand.
func (c *Compiler) emitConstant(v value.Value) {
	idx := bytecode.AddConstant(c.chunk(), v)
	if idx > bytecode.MaxConstants {
		c.error("Too many constants in one chunk.")
		return
	}
	if idx < 256 {
		c.emitOp(bytecode.OpConst)
		c.emitByte(byte(idx))
	} else {
		c.emitOp(bytecode.OpConstLong)
		bytecode.WriteUint24(c.chunk(), idx, c.previous.Line)
	}
}

// emitJump emits a jump opcode with a placeholder 16-bit offset and
// returns the offset of that placeholder, to be filled in by patchJump.
func (c *Compiler) emitJump(op bytecode.Op) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.chunk().Code) - 2
}

func (c *Compiler) patchJump(offset int) {
	jump := len(c.chunk().Code) - offset - 2
	if jump > 1<<16-1 {
		c.error("Too much code to jump over.")
		return
	}
	c.chunk().Code[offset] = byte(jump >> 8)
	c.chunk().Code[offset+1] = byte(jump)
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(bytecode.OpLoop)
	offset := len(c.chunk().Code) - loopStart + 2
	if offset > 1<<16-1 {
		c.error("Too much code to jump over.")
		return
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset))
}

// --- declarations & statements -----------------------------------------

func (c *Compiler) declaration() {
	switch {
	case c.match(lexer.Fun):
		c.funDeclaration()
	case c.match(lexer.Var):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	c.markInitialized()
	c.function(functionScope)
	c.defineVariable(global)
}

func (c *Compiler) function(kind funcKind) {
	name := c.previous.Lexeme
	c.pushScope(kind, name)
	c.beginScope()

	c.consume(lexer.LeftParen, "Expect '(' after function name.")
	if !c.check(lexer.RightParen) {
		for {
			c.scope.function.Arity++
			if c.scope.function.Arity > maxArgs {
				c.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constant := c.parseVariable("Expect parameter name.")
			c.defineVariable(constant)
			if !c.match(lexer.Comma) {
				break
			}
		}
	}
	c.consume(lexer.RightParen, "Expect ')' after parameters.")
	c.consume(lexer.LeftBrace, "Expect '{' before function body.")
	c.block()

	upvalues := c.scope.upvalues
	fn := c.endScope()

	idx := bytecode.AddConstant(c.chunk(), value.Obj(fn))
	c.emitOp(bytecode.OpClosure)
	c.emitByte(byte(idx))
	for _, uv := range upvalues {
		if uv.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(byte(uv.index))
	}
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.match(lexer.Equal) {
		c.expression()
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.consume(lexer.Semicolon, "Expect ';' after variable declaration.")
	c.defineVariable(global)
}

func (c *Compiler) statement() {
	switch {
	case c.match(lexer.Print):
		c.printStatement()
	case c.match(lexer.If):
		c.ifStatement()
	case c.match(lexer.Return):
		c.returnStatement()
	case c.match(lexer.While):
		c.whileStatement()
	case c.match(lexer.For):
		c.forStatement()
	case c.match(lexer.LeftBrace):
		c.beginScope()
		c.block()
		c.endBlockScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(lexer.Semicolon, "Expect ';' after value.")
	c.emitOp(bytecode.OpPrint)
}

func (c *Compiler) returnStatement() {
	if c.scope.kind == scriptScope {
		c.error("Can't return from top-level code.")
	}
	if c.match(lexer.Semicolon) {
		c.emitOp(bytecode.OpNil)
		c.emitOp(bytecode.OpReturn)
		return
	}
	c.expression()
	c.consume(lexer.Semicolon, "Expect ';' after return value.")
	c.emitOp(bytecode.OpReturn)
}

func (c *Compiler) ifStatement() {
	c.consume(lexer.LeftParen, "Expect '(' after 'if'.")
	c.expression()
	c.consume(lexer.RightParen, "Expect ')' after condition.")

	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()

	elseJump := c.emitJump(bytecode.OpJump)
	c.patchJump(thenJump)
	c.emitOp(bytecode.OpPop)

	if c.match(lexer.Else) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.chunk().Code)
	c.consume(lexer.LeftParen, "Expect '(' after 'while'.")
	c.expression()
	c.consume(lexer.RightParen, "Expect ')' after condition.")

	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)
}

func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(lexer.LeftParen, "Expect '(' after 'for'.")
	switch {
	case c.match(lexer.Semicolon):
		// no initializer
	case c.match(lexer.Var):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.chunk().Code)
	exitJump := -1
	if !c.match(lexer.Semicolon) {
		c.expression()
		c.consume(lexer.Semicolon, "Expect ';' after loop condition.")
		exitJump = c.emitJump(bytecode.OpJumpIfFalse)
		c.emitOp(bytecode.OpPop)
	}

	if !c.match(lexer.RightParen) {
		bodyJump := c.emitJump(bytecode.OpJump)
		incrStart := len(c.chunk().Code)
		c.expression()
		c.emitOp(bytecode.OpPop)
		c.consume(lexer.RightParen, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(bytecode.OpPop)
	}
	c.endBlockScope()
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(lexer.Semicolon, "Expect ';' after expression.")
	c.emitOp(bytecode.OpPop)
}

func (c *Compiler) block() {
	for !c.check(lexer.RightBrace) && !c.check(lexer.EOF) {
		c.declaration()
	}
	c.consume(lexer.RightBrace, "Expect '}' after block.")
}

func (c *Compiler) beginScope() { c.scope.scopeDepth++ }

// endBlockScope pops every local declared in the scope just closed,
// closing it into an upvalue first if anything captured it.
func (c *Compiler) endBlockScope() {
	c.scope.scopeDepth--
	locals := c.scope.locals
	for len(locals) > 0 && locals[len(locals)-1].depth > c.scope.scopeDepth {
		if locals[len(locals)-1].isCaptured {
			c.emitOp(bytecode.OpCloseUpvalue)
		} else {
			c.emitOp(bytecode.OpPop)
		}
		locals = locals[:len(locals)-1]
	}
	c.scope.locals = locals
}

// --- expressions (Pratt parser) -----------------------------------------

type precedence int

const (
	precNone       precedence = iota
	precAssignment            // =
	precOr                    // or
	precAnd                   // and
	precEquality              // == !=
	precComparison            // < > <= >=
	precTerm                  // + -
	precFactor                // * /
	precUnary                 // ! -
	precCall                  // . ()
	precPrimary
)

type parseFn func(canAssign bool)

type rule struct {
	prefix     parseFn
	infix      parseFn
	precedence precedence
}

func (c *Compiler) getRule(t lexer.TokenType) rule {
	switch t {
	case lexer.LeftParen:
		return rule{c.grouping, c.call, precCall}
	case lexer.Minus:
		return rule{c.unary, c.binary, precTerm}
	case lexer.Plus:
		return rule{nil, c.binary, precTerm}
	case lexer.Slash:
		return rule{nil, c.binary, precFactor}
	case lexer.Star:
		return rule{nil, c.binary, precFactor}
	case lexer.Bang:
		return rule{c.unary, nil, precNone}
	case lexer.BangEqual:
		return rule{nil, c.binary, precEquality}
	case lexer.EqualEqual:
		return rule{nil, c.binary, precEquality}
	case lexer.Greater:
		return rule{nil, c.binary, precComparison}
	case lexer.GreaterEqual:
		return rule{nil, c.binary, precComparison}
	case lexer.Less:
		return rule{nil, c.binary, precComparison}
	case lexer.LessEqual:
		return rule{nil, c.binary, precComparison}
	case lexer.Identifier:
		return rule{c.variable, nil, precNone}
	case lexer.String:
		return rule{c.stringLiteral, nil, precNone}
	case lexer.Number:
		return rule{c.number, nil, precNone}
	case lexer.And:
		return rule{nil, c.and_, precAnd}
	case lexer.Or:
		return rule{nil, c.or_, precOr}
	case lexer.False:
		return rule{c.literal, nil, precNone}
	case lexer.Nah:
		return rule{c.literal, nil, precNone}
	case lexer.True:
		return rule{c.literal, nil, precNone}
	default:
		return rule{nil, nil, precNone}
	}
}

func (c *Compiler) expression() { c.parsePrecedence(precAssignment) }

func (c *Compiler) parsePrecedence(prec precedence) {
	c.advance()
	prefix := c.getRule(c.previous.Type).prefix
	if prefix == nil {
		c.error("Expect expression.")
		return
	}
	canAssign := prec <= precAssignment
	prefix(canAssign)

	for prec <= c.getRule(c.current.Type).precedence {
		c.advance()
		infix := c.getRule(c.previous.Type).infix
		infix(canAssign)
	}

	if canAssign && c.match(lexer.Equal) {
		c.error("Invalid assignment target.")
	}
}

func (c *Compiler) number(bool) {
	n, err := strconv.ParseFloat(c.previous.Lexeme, 64)
	if err != nil {
		c.error("Invalid number literal.")
		return
	}
	c.emitConstant(value.Number(n))
}

func (c *Compiler) stringLiteral(bool) {
	raw := c.previous.Lexeme
	s := raw[1 : len(raw)-1] // strip surrounding quotes; no escapes processed
	c.emitConstant(value.Obj(c.heap.InternString(s)))
}

func (c *Compiler) literal(bool) {
	switch c.previous.Type {
	case lexer.False:
		c.emitOp(bytecode.OpFalse)
	case lexer.Nah:
		c.emitOp(bytecode.OpNil)
	case lexer.True:
		c.emitOp(bytecode.OpTrue)
	}
}

func (c *Compiler) grouping(bool) {
	c.expression()
	c.consume(lexer.RightParen, "Expect ')' after expression.")
}

func (c *Compiler) unary(bool) {
	opType := c.previous.Type
	c.parsePrecedence(precUnary)
	switch opType {
	case lexer.Bang:
		c.emitOp(bytecode.OpNot)
	case lexer.Minus:
		c.emitOp(bytecode.OpNegate)
	}
}

func (c *Compiler) binary(bool) {
	opType := c.previous.Type
	r := c.getRule(opType)
	c.parsePrecedence(r.precedence + 1)

	switch opType {
	case lexer.BangEqual:
		c.emitOp(bytecode.OpEqual)
		c.emitOp(bytecode.OpNot)
	case lexer.EqualEqual:
		c.emitOp(bytecode.OpEqual)
	case lexer.Greater:
		c.emitOp(bytecode.OpGreater)
	case lexer.GreaterEqual:
		c.emitOp(bytecode.OpLess)
		c.emitOp(bytecode.OpNot)
	case lexer.Less:
		c.emitOp(bytecode.OpLess)
	case lexer.LessEqual:
		c.emitOp(bytecode.OpGreater)
		c.emitOp(bytecode.OpNot)
	case lexer.Plus:
		c.emitOp(bytecode.OpAdd)
	case lexer.Minus:
		c.emitOp(bytecode.OpSubtract)
	case lexer.Star:
		c.emitOp(bytecode.OpMultiply)
	case lexer.Slash:
		c.emitOp(bytecode.OpDivide)
	}
}

func (c *Compiler) call(bool) {
	argCount := c.argumentList()
	c.emitOp(bytecode.OpCall)
	c.emitByte(byte(argCount))
}

func (c *Compiler) argumentList() int {
	count := 0
	if !c.check(lexer.RightParen) {
		for {
			c.expression()
			if count == maxArgs {
				c.error("Can't have more than 255 arguments.")
			}
			count++
			if !c.match(lexer.Comma) {
				break
			}
		}
	}
	c.consume(lexer.RightParen, "Expect ')' after arguments.")
	return count
}

func (c *Compiler) and_(bool) {
	endJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or_(bool) {
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	endJump := c.emitJump(bytecode.OpJump)
	c.patchJump(elseJump)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous.Lexeme, canAssign)
}

func (c *Compiler) namedVariable(name string, canAssign bool) {
	var getOp, setOp bytecode.Op
	arg, ok := c.resolveLocal(c.scope, name)
	switch {
	case ok:
		getOp, setOp = bytecode.OpGetLocal, bytecode.OpSetLocal
	default:
		if idx, ok := c.resolveUpvalue(c.scope, name); ok {
			arg = idx
			getOp, setOp = bytecode.OpGetUpvalue, bytecode.OpSetUpvalue
		} else {
			arg = bytecode.AddConstant(c.chunk(), value.Obj(c.heap.InternString(name)))
			getOp, setOp = bytecode.OpGetGlobal, bytecode.OpSetGlobal
		}
	}

	if canAssign && c.match(lexer.Equal) {
		c.expression()
		c.emitGlobalAwareOp(setOp, arg)
	} else {
		c.emitGlobalAwareOp(getOp, arg)
	}
}

// emitGlobalAwareOp emits op with arg as its single operand byte. Global
// ops address the constant pool the same way local/upvalue ops address
// slots, so one helper covers all six.
func (c *Compiler) emitGlobalAwareOp(op bytecode.Op, arg int) {
	c.emitOp(op)
	c.emitByte(byte(arg))
}

// --- locals & upvalues ---------------------------------------------------

func (c *Compiler) parseVariable(msg string) int {
	c.consume(lexer.Identifier, msg)
	c.declareVariable()
	if c.scope.scopeDepth > 0 {
		return 0
	}
	return bytecode.AddConstant(c.chunk(), value.Obj(c.heap.InternString(c.previous.Lexeme)))
}

func (c *Compiler) declareVariable() {
	if c.scope.scopeDepth == 0 {
		return
	}
	name := c.previous.Lexeme
	for i := len(c.scope.locals) - 1; i >= 0; i-- {
		l := c.scope.locals[i]
		if l.depth != -1 && l.depth < c.scope.scopeDepth {
			break
		}
		if l.name == name {
			c.error("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

func (c *Compiler) addLocal(name string) {
	if len(c.scope.locals) >= maxLocals {
		c.error("Too many local variables in function.")
		return
	}
	c.scope.locals = append(c.scope.locals, local{name: name, depth: -1})
}

func (c *Compiler) markInitialized() {
	if c.scope.scopeDepth == 0 {
		return
	}
	c.scope.locals[len(c.scope.locals)-1].depth = c.scope.scopeDepth
}

func (c *Compiler) defineVariable(global int) {
	if c.scope.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOp(bytecode.OpDefineGlobal)
	c.emitByte(byte(global))
}

// resolveLocal implements step 1 of variable resolution: search this
// scope's locals from the innermost outward, erroring if the match is
// still being initialized (a variable referencing itself).
func (c *Compiler) resolveLocal(s *funcScope, name string) (int, bool) {
	for i := len(s.locals) - 1; i >= 0; i-- {
		if s.locals[i].name == name {
			if s.locals[i].depth == -1 {
				c.error("Can't read local variable in its own initializer.")
			}
			return i, true
		}
	}
	return 0, false
}

// resolveUpvalue implements steps 2-3: recurse into the enclosing scope,
// and if the name resolves there (as a local or as a further upvalue),
// record a new upvalue here that chains to it.
func (c *Compiler) resolveUpvalue(s *funcScope, name string) (int, bool) {
	if s.enclosing == nil {
		return 0, false
	}
	if idx, ok := c.resolveLocal(s.enclosing, name); ok {
		s.enclosing.locals[idx].isCaptured = true
		return c.addUpvalue(s, idx, true), true
	}
	if idx, ok := c.resolveUpvalue(s.enclosing, name); ok {
		return c.addUpvalue(s, idx, false), true
	}
	return 0, false
}

func (c *Compiler) addUpvalue(s *funcScope, index int, isLocal bool) int {
	for i, uv := range s.upvalues {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if len(s.upvalues) >= maxUpvalues {
		c.error("Too many closure variables in function.")
		return 0
	}
	s.upvalues = append(s.upvalues, upvalueRef{index: index, isLocal: isLocal})
	return len(s.upvalues) - 1
}
