// Package codec implements the wire format for values and the storage format for keys.
//
// Values travel as plain JSON. Values that JSON cannot carry are tagged as
// sentinel strings and substituted depth-first on decode:
//
//	@undefined       codec.Undefined (nested positions only)
//	@NaN             math.NaN()
//	@Infinity        math.Inf(1)
//	@-Infinity       math.Inf(-1)
//	@BigInt(123)     *big.Int
//	@Date(1700000)   time.Time (epoch milliseconds)
//	@RegExp(/a/i)    codec.RegExp
//	@Symbol(name)    codec.Symbol
//
// Decode never fails: text that is not JSON is returned as a literal string.
// Encode drops Undefined fields unless WithKeepUndefined is given, which is
// how clients request the removal of a field in a patch.
//
// Keys are encoded with EncodeKey into an order-preserving byte form, so the
// storage engine's bytewise order is the key order.
package codec
