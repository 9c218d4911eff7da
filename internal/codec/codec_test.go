package codec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/codec"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/ferrors"
)

func TestBlobEncodeDecodeRoundTrip(t *testing.T) {
	v := codec.Bytes([]byte("hello"))
	raw, ferr := codec.Encode(codec.Blob, v)
	require.Nil(t, ferr)
	require.Equal(t, []byte("hello"), raw)

	got, ferr := codec.Decode(codec.Blob, raw)
	require.Nil(t, ferr)
	require.Equal(t, v, got)
}

func TestJSONEncodeDecodeRoundTrip(t *testing.T) {
	v := codec.Any(map[string]interface{}{"x": 1.0})
	raw, ferr := codec.Encode(codec.JSON, v)
	require.Nil(t, ferr)

	got, ferr := codec.Decode(codec.JSON, raw)
	require.Nil(t, ferr)
	require.Equal(t, v.JSON, got.JSON)
}

func TestEncodeMismatchedKindIsWrongType(t *testing.T) {
	v := codec.Bytes([]byte("hello"))
	_, ferr := codec.Encode(codec.JSON, v)
	require.NotNil(t, ferr)
	require.Equal(t, ferrors.WrongType, ferr.Kind)
}

func TestDecodeMalformedJSONIsDecodingError(t *testing.T) {
	_, ferr := codec.Decode(codec.JSON, []byte("not json"))
	require.NotNil(t, ferr)
	require.Equal(t, ferrors.JSONDecodingError, ferr.Kind)
}

func TestValidRecognizesDeclaredKindsOnly(t *testing.T) {
	require.True(t, codec.Valid(codec.Blob))
	require.True(t, codec.Valid(codec.JSON))
	require.False(t, codec.Valid(codec.Kind("xml")))
}
