package expr

// TokenType identifies the type of a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIllegal

	TokenIdent  // context roots, function names, path segments
	TokenString // '...' with '' as the escaped quote
	TokenInt
	TokenFloat
	TokenBool
	TokenNull

	TokenAnd // &&
	TokenOr  // ||
	TokenNot // !

	TokenEQ // ==
	TokenNE // !=
	TokenLT // <
	TokenLE // <=
	TokenGT // >
	TokenGE // >=

	TokenLParen   // (
	TokenRParen   // )
	TokenLBracket // [
	TokenRBracket // ]
	TokenComma    // ,
	TokenDot      // .
)

// String returns a readable name for error messages.
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "end of expression"
	case TokenIllegal:
		return "illegal token"
	case TokenIdent:
		return "identifier"
	case TokenString:
		return "string"
	case TokenInt:
		return "integer"
	case TokenFloat:
		return "float"
	case TokenBool:
		return "boolean"
	case TokenNull:
		return "null"
	case TokenAnd:
		return "&&"
	case TokenOr:
		return "||"
	case TokenNot:
		return "!"
	case TokenEQ:
		return "=="
	case TokenNE:
		return "!="
	case TokenLT:
		return "<"
	case TokenLE:
		return "<="
	case TokenGT:
		return ">"
	case TokenGE:
		return ">="
	case TokenLParen:
		return "("
	case TokenRParen:
		return ")"
	case TokenLBracket:
		return "["
	case TokenRBracket:
		return "]"
	case TokenComma:
		return ","
	case TokenDot:
		return "."
	}
	return "unknown"
}

// Token is one lexical token with its position in the expression.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
}
