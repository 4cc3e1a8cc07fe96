package expr

// Lexer tokenizes workflow expression strings.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // current reading position (after current char)
	ch      byte // current char under examination
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // ASCII NUL signifies EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	var tok Token
	tok.Pos = l.pos

	switch l.ch {
	case '&':
		if l.peekChar() == '&' {
			l.readChar()
			tok = Token{Type: TokenAnd, Literal: "&&", Pos: tok.Pos}
		} else {
			tok = Token{Type: TokenIllegal, Literal: string(l.ch), Pos: tok.Pos}
		}
	case '|':
		if l.peekChar() == '|' {
			l.readChar()
			tok = Token{Type: TokenOr, Literal: "||", Pos: tok.Pos}
		} else {
			tok = Token{Type: TokenIllegal, Literal: string(l.ch), Pos: tok.Pos}
		}
	case '=':
		if l.peekChar() == '=' {
			l.readChar()
			tok = Token{Type: TokenEQ, Literal: "==", Pos: tok.Pos}
		} else {
			tok = Token{Type: TokenIllegal, Literal: string(l.ch), Pos: tok.Pos}
		}
	case '!':
		if l.peekChar() == '=' {
			l.readChar()
			tok = Token{Type: TokenNE, Literal: "!=", Pos: tok.Pos}
		} else {
			tok = Token{Type: TokenNot, Literal: "!", Pos: tok.Pos}
		}
	case '<':
		if l.peekChar() == '=' {
			l.readChar()
			tok = Token{Type: TokenLE, Literal: "<=", Pos: tok.Pos}
		} else {
			tok = Token{Type: TokenLT, Literal: "<", Pos: tok.Pos}
		}
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			tok = Token{Type: TokenGE, Literal: ">=", Pos: tok.Pos}
		} else {
			tok = Token{Type: TokenGT, Literal: ">", Pos: tok.Pos}
		}
	case '(':
		tok = Token{Type: TokenLParen, Literal: "(", Pos: tok.Pos}
	case ')':
		tok = Token{Type: TokenRParen, Literal: ")", Pos: tok.Pos}
	case '[':
		tok = Token{Type: TokenLBracket, Literal: "[", Pos: tok.Pos}
	case ']':
		tok = Token{Type: TokenRBracket, Literal: "]", Pos: tok.Pos}
	case ',':
		tok = Token{Type: TokenComma, Literal: ",", Pos: tok.Pos}
	case '.':
		if isDigit(l.peekChar()) {
			return l.readNumber()
		}
		tok = Token{Type: TokenDot, Literal: ".", Pos: tok.Pos}
	case '\'':
		return l.readString()
	case 0:
		tok = Token{Type: TokenEOF, Literal: "", Pos: tok.Pos}
	default:
		if isDigit(l.ch) || (l.ch == '-' && isDigit(l.peekChar())) {
			return l.readNumber()
		}
		if isIdentStart(l.ch) {
			return l.readIdentifier()
		}
		tok = Token{Type: TokenIllegal, Literal: string(l.ch), Pos: tok.Pos}
	}

	l.readChar()
	return tok
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

// readIdentifier reads an identifier or keyword. Hyphens are allowed inside
// identifiers because step and output ids use them (cache-hit).
func (l *Lexer) readIdentifier() Token {
	pos := l.pos
	for isIdentStart(l.ch) || isDigit(l.ch) || l.ch == '-' {
		l.readChar()
	}
	literal := l.input[pos:l.pos]
	switch literal {
	case "true", "false":
		return Token{Type: TokenBool, Literal: literal, Pos: pos}
	case "null":
		return Token{Type: TokenNull, Literal: literal, Pos: pos}
	}
	return Token{Type: TokenIdent, Literal: literal, Pos: pos}
}

func (l *Lexer) readNumber() Token {
	pos := l.pos
	isFloat := false

	if l.ch == '-' {
		l.readChar()
	}
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		isFloat = true
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	literal := l.input[pos:l.pos]
	if isFloat {
		return Token{Type: TokenFloat, Literal: literal, Pos: pos}
	}
	return Token{Type: TokenInt, Literal: literal, Pos: pos}
}

// readString reads a single-quoted string literal. Two consecutive quotes
// inside the string denote a literal quote.
func (l *Lexer) readString() Token {
	pos := l.pos
	l.readChar() // consume opening quote

	var out []byte
	for {
		if l.ch == 0 {
			return Token{Type: TokenIllegal, Literal: "unterminated string", Pos: pos}
		}
		if l.ch == '\'' {
			if l.peekChar() == '\'' {
				out = append(out, '\'')
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // consume closing quote
			break
		}
		out = append(out, l.ch)
		l.readChar()
	}

	return Token{Type: TokenString, Literal: string(out), Pos: pos}
}

func isIdentStart(ch byte) bool {
	return ch == '_' || ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z')
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}
