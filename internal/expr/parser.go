package expr

import (
	"strconv"
)

// Parser parses expression strings into an AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
}

// NewParser creates a new Parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

// Parse parses the expression and returns the AST.
func (p *Parser) Parse() (*AST, error) {
	node, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if p.curToken.Type != TokenEOF {
		return nil, NewParseError(p.curToken.Pos, "end of expression", p.curToken.Literal)
	}
	return &AST{Root: node}, nil
}

// parseExpression parses an expression, starting at the lowest precedence.
func (p *Parser) parseExpression() (Node, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.curToken.Type == TokenOr {
		p.nextToken()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &LogicalNode{Left: left, Operator: "||", Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.curToken.Type == TokenAnd {
		p.nextToken()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &LogicalNode{Left: left, Operator: "&&", Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Node, error) {
	if p.curToken.Type == TokenNot {
		p.nextToken()
		operand, err := p.parseNot() // ! is right-associative
		if err != nil {
			return nil, err
		}
		return &NotNode{Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (Node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if isComparisonOperator(p.curToken.Type) {
		op := p.curToken.Literal
		p.nextToken()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &ComparisonNode{Left: left, Operator: op, Right: right}, nil
	}
	return left, nil
}

// parsePrimary parses literals, parenthesized expressions, function calls
// and context paths.
func (p *Parser) parsePrimary() (Node, error) {
	switch p.curToken.Type {
	case TokenLParen:
		p.nextToken() // consume '('
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if p.curToken.Type != TokenRParen {
			return nil, NewParseError(p.curToken.Pos, ")", p.curToken.Literal)
		}
		p.nextToken() // consume ')'
		return inner, nil

	case TokenInt:
		val, err := strconv.ParseInt(p.curToken.Literal, 10, 64)
		if err != nil {
			return nil, NewParseError(p.curToken.Pos, "integer", p.curToken.Literal)
		}
		node := &LiteralNode{Value: val}
		p.nextToken()
		return node, nil

	case TokenFloat:
		val, err := strconv.ParseFloat(p.curToken.Literal, 64)
		if err != nil {
			return nil, NewParseError(p.curToken.Pos, "float", p.curToken.Literal)
		}
		node := &LiteralNode{Value: val}
		p.nextToken()
		return node, nil

	case TokenString:
		node := &LiteralNode{Value: p.curToken.Literal}
		p.nextToken()
		return node, nil

	case TokenBool:
		node := &LiteralNode{Value: p.curToken.Literal == "true"}
		p.nextToken()
		return node, nil

	case TokenNull:
		node := &LiteralNode{Value: nil}
		p.nextToken()
		return node, nil

	case TokenIdent:
		if p.peekToken.Type == TokenLParen {
			call, err := p.parseCall()
			if err != nil {
				return nil, err
			}
			if p.curToken.Type == TokenDot || p.curToken.Type == TokenLBracket {
				segments, err := p.parseSegments()
				if err != nil {
					return nil, err
				}
				return &AccessNode{Base: call, Segments: segments}, nil
			}
			return call, nil
		}
		return p.parsePath()

	case TokenEOF:
		return nil, NewParseError(p.curToken.Pos, "expression", "end of input")
	}

	return nil, NewParseError(p.curToken.Pos, "expression", p.curToken.Literal)
}

// parseCall parses a function call. The current token is the function name
// and the peek token is '('.
func (p *Parser) parseCall() (Node, error) {
	name := p.curToken.Literal
	p.nextToken() // move to '('
	p.nextToken() // consume '('

	var args []Node
	if p.curToken.Type != TokenRParen {
		for {
			arg, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.curToken.Type != TokenComma {
				break
			}
			p.nextToken() // consume ','
		}
	}
	if p.curToken.Type != TokenRParen {
		return nil, NewParseError(p.curToken.Pos, ")", p.curToken.Literal)
	}
	p.nextToken() // consume ')'
	return &FunctionNode{Name: name, Args: args}, nil
}

// parsePath parses a context path: a root identifier followed by any number
// of .field, ['key'] and [index] accessors.
func (p *Parser) parsePath() (Node, error) {
	node := &PathNode{Root: p.curToken.Literal}
	p.nextToken()

	segments, err := p.parseSegments()
	if err != nil {
		return nil, err
	}
	node.Segments = segments
	return node, nil
}

// parseSegments consumes a chain of .field, ['key'] and [index] accessors.
func (p *Parser) parseSegments() ([]Segment, error) {
	var segments []Segment
	for {
		switch p.curToken.Type {
		case TokenDot:
			p.nextToken()
			if p.curToken.Type != TokenIdent && p.curToken.Type != TokenBool && p.curToken.Type != TokenNull {
				return nil, NewParseError(p.curToken.Pos, "property name", p.curToken.Literal)
			}
			segments = append(segments, Segment{Kind: SegmentField, Name: p.curToken.Literal})
			p.nextToken()

		case TokenLBracket:
			p.nextToken()
			switch p.curToken.Type {
			case TokenString:
				segments = append(segments, Segment{Kind: SegmentField, Name: p.curToken.Literal})
			case TokenInt:
				idx, err := strconv.Atoi(p.curToken.Literal)
				if err != nil || idx < 0 {
					return nil, NewParseError(p.curToken.Pos, "non-negative index", p.curToken.Literal)
				}
				segments = append(segments, Segment{Kind: SegmentIndex, Index: idx})
			default:
				return nil, NewParseError(p.curToken.Pos, "string key or index", p.curToken.Literal)
			}
			p.nextToken()
			if p.curToken.Type != TokenRBracket {
				return nil, NewParseError(p.curToken.Pos, "]", p.curToken.Literal)
			}
			p.nextToken() // consume ']'

		default:
			return segments, nil
		}
	}
}

func isComparisonOperator(t TokenType) bool {
	switch t {
	case TokenEQ, TokenNE, TokenLT, TokenGT, TokenLE, TokenGE:
		return true
	}
	return false
}

// Parse is a convenience function to parse an expression string.
func Parse(input string) (*AST, error) {
	return NewParser(input).Parse()
}
